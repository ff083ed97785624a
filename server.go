package main

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/metalab/rendezvous/internal/rvkiosk"
	"github.com/metalab/rendezvous/internal/rvmetrics"
	"github.com/metalab/rendezvous/internal/rvstore"
	"github.com/metalab/rendezvous/internal/util/stringutil"
)

const (
	// Upper bound on the size of a submitted form.
	MaxFormSize = 64 << 10

	// Number of characters of a short description shown on the list page.
	ShortDescExcerptLength = 60

	shutdownTimeout = 10 * time.Second
)

const (
	MessageListingDeleted = "The date has been deleted."
	MessageTimeoutReset   = "The date will now expire in %s."
)

var (
	//go:embed public
	publicFS embed.FS

	//go:embed templates/*.tmpl.html
	templatesFS embed.FS
)

type Server struct {
	httpServer   *http.Server
	kioskHub     *rvkiosk.Hub
	listingStore rvstore.ListingStore
	logger       *logrus.Logger
	name         string
	router       *mux.Router
	templates    *template.Template
	timeNow      func() time.Time
}

func NewServer(logger *logrus.Logger, listingStore rvstore.ListingStore, kioskHub *rvkiosk.Hub,
	port int, requestTimeout time.Duration,
) *Server {
	server := &Server{
		kioskHub:     kioskHub,
		listingStore: listingStore,
		logger:       logger,
		name:         reflect.TypeOf(Server{}).Name(),
		timeNow:      func() time.Time { return time.Now() },
	}

	if err := server.parseTemplates(); err != nil {
		// Templates are embedded, so failing to parse them is a build problem.
		panic(err)
	}

	publicSubFS, err := fs.Sub(publicFS, "public")
	if err != nil {
		panic(err)
	}

	router := mux.NewRouter()
	router.Use((&ContextContainerMiddleware{}).Wrapper)
	router.Use((&RequestIDMiddleware{}).Wrapper)
	router.Use((&CanonicalLogLineMiddleware{logger: logger}).Wrapper)
	router.Use((&MetricsMiddleware{}).Wrapper)
	router.Use(NewInspectableWriterMiddleware().Wrapper)

	// Registered ahead of the page routes so that `/kiosk/{id}` doesn't shadow
	// the feed. None of these can go behind the timeout middleware.
	router.Handle("/kiosk/feed", kioskHub).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.PathPrefix("/public/").
		Handler(http.StripPrefix("/public/", http.FileServer(http.FS(publicSubFS)))).
		Methods(http.MethodGet)

	pages := router.NewRoute().Subrouter()
	pages.Use(NewTimeoutMiddleware(requestTimeout).Wrapper)
	pages.Handle("/", server.wrapEndpoint(server.handleIndex)).Methods(http.MethodGet)
	pages.Handle("/", server.wrapEndpoint(server.handleCreate)).Methods(http.MethodPost)
	pages.Handle("/newdate", server.wrapEndpoint(server.handleNewDate)).Methods(http.MethodGet)
	pages.Handle("/date/{id}", server.wrapEndpoint(server.handleShow)).Methods(http.MethodGet)
	pages.Handle("/date/{id}", server.wrapEndpoint(server.handleResetTimeout)).Methods(http.MethodPost)
	pages.Handle("/date/{id}/delete", server.wrapEndpoint(server.handleDelete)).Methods(http.MethodPost)
	pages.Handle("/kiosk", server.wrapEndpoint(server.handleKiosk)).Methods(http.MethodGet)
	pages.Handle("/kiosk/{id}", server.wrapEndpoint(server.handleKiosk)).Methods(http.MethodGet)

	router.NotFoundHandler = server.wrapEndpoint(server.handleNotFound)

	server.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,

		// Specified to prevent the "Slowloris" DOS attack, in which an attacker
		// sends many partial requests to exhaust a target server's connections.
		//
		// https://en.wikipedia.org/wiki/Slowloris_(computer_security)
		ReadHeaderTimeout: 5 * time.Second,
	}
	server.router = router

	return server
}

// Start listens until the context is cancelled, then shuts down gracefully,
// giving in-flight requests a chance to finish.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Infof(s.name+": Listening on %s", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return xerrors.Errorf("error listening on %s: %w", s.httpServer.Addr, err)
		}

	case <-ctx.Done():
		s.logger.Infof(s.name + ": Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return xerrors.Errorf("error shutting down server: %w", err)
		}
	}

	return nil
}

//
// Handlers
//

func (s *Server) handleCreate(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	content, err := decodeContent(r)
	if err != nil {
		return nil, err
	}

	id, err := s.listingStore.Create(ctx, content)
	if err != nil {
		var validationErr *rvstore.ValidationError
		if errors.As(err, &validationErr) {
			body, err := s.render("input.tmpl.html", &inputPage{
				Content:  &validationErr.Content,
				Messages: validationErr.Messages,
			})
			if err != nil {
				return nil, err
			}
			return NewServerResponse(http.StatusUnprocessableEntity, body, nil), nil
		}

		return nil, xerrors.Errorf("error creating listing: %w", err)
	}

	rvmetrics.ListingsCreated.Inc()
	s.logger.WithFields(logrus.Fields{"listing_id": id}).Infof(s.name+": Created listing %q", id)

	return NewServerResponse(http.StatusSeeOther, nil, http.Header{
		"Location": []string{"/date/" + id},
	}), nil
}

func (s *Server) handleDelete(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	id := mux.Vars(r)["id"]

	if err := parseForm(r); err != nil {
		return nil, err
	}

	if err := s.listingStore.Delete(ctx, id, formPassword(r)); err != nil {
		return nil, s.storeError(id, err)
	}

	rvmetrics.ListingsRemoved.WithLabelValues(rvmetrics.ReasonDeleted).Inc()
	s.logger.WithFields(logrus.Fields{"listing_id": id}).Infof(s.name+": Deleted listing %q", id)

	return s.renderResponse(http.StatusOK, "result.tmpl.html", &resultPage{Message: MessageListingDeleted})
}

func (s *Server) handleIndex(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	listings, err := s.listingStore.List(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error listing listings: %w", err)
	}

	return s.renderResponse(http.StatusOK, "list.tmpl.html", &listPage{Listings: listings, Now: s.timeNow()})
}

func (s *Server) handleKiosk(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	listing := s.listingStore.GetNextAfter(ctx, mux.Vars(r)["id"])

	refreshSeconds := int(s.kioskHub.Interval().Seconds())
	if refreshSeconds < 1 {
		refreshSeconds = 1
	}

	return s.renderResponse(http.StatusOK, "kiosk.tmpl.html", &kioskPage{
		Listing:        listing,
		RefreshSeconds: refreshSeconds,
	})
}

func (s *Server) handleNewDate(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	return s.renderResponse(http.StatusOK, "input.tmpl.html", &inputPage{Content: rvstore.NewContent()})
}

func (s *Server) handleNotFound(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	return nil, NewServerError(http.StatusNotFound, ErrMessagePageNotFound)
}

func (s *Server) handleResetTimeout(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	id := mux.Vars(r)["id"]

	if err := parseForm(r); err != nil {
		return nil, err
	}

	requestedDays := strings.TrimSpace(r.PostForm.Get("action"))

	if err := s.listingStore.ResetTimeout(ctx, id, formPassword(r), requestedDays); err != nil {
		return nil, s.storeError(id, err)
	}

	logger := s.logger.WithFields(logrus.Fields{"listing_id": id, "requested_days": requestedDays})

	// Already accepted by the store, so this can't fail.
	lifetime, _ := rvstore.ParseLifetime(requestedDays)

	// A lifetime of zero days is a delete.
	if lifetime == 0 {
		rvmetrics.ListingsRemoved.WithLabelValues(rvmetrics.ReasonTimeout).Inc()
		logger.Infof(s.name+": Removed listing %q by resetting its timeout", id)

		return s.renderResponse(http.StatusOK, "result.tmpl.html", &resultPage{Message: MessageListingDeleted})
	}

	logger.Infof(s.name+": Reset timeout of listing %q", id)

	return s.renderResponse(http.StatusOK, "result.tmpl.html", &resultPage{
		ListingID: id,
		Message:   fmt.Sprintf(MessageTimeoutReset, lifetimeText(lifetime)),
	})
}

func (s *Server) handleShow(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	id := mux.Vars(r)["id"]

	listing, err := s.listingStore.Get(ctx, id)
	if err != nil {
		return nil, s.storeError(id, err)
	}

	return s.renderResponse(http.StatusOK, "date.tmpl.html", &datePage{
		DefaultLifetime: rvstore.DefaultLifetime,
		Listing:         listing,
		MaxLifetime:     rvstore.MaxLifetime,
		Now:             s.timeNow(),
	})
}

//
// Page data
//

type datePage struct {
	DefaultLifetime rvstore.Lifetime
	Listing         *rvstore.Listing
	MaxLifetime     rvstore.Lifetime
	Now             time.Time
}

type errorPage struct {
	Message    string
	StatusCode int
}

type inputPage struct {
	Content  *rvstore.Content
	Messages []string
}

type kioskPage struct {
	Listing        *rvstore.Listing
	RefreshSeconds int
}

type listPage struct {
	Listings []*rvstore.Listing
	Now      time.Time
}

type resultPage struct {
	// Set to link back to a listing that still exists.
	ListingID string
	Message   string
}

//
// Helpers
//

// Maps an error from the listing store into one suitable for the user.
func (s *Server) storeError(id string, err error) error {
	var validationErr *rvstore.ValidationError

	switch {
	case errors.Is(err, rvstore.ErrListingNotFound):
		return NewServerError(http.StatusNotFound, ErrMessageListingNotFound)
	case errors.Is(err, rvstore.ErrIncorrectPassword):
		return NewServerError(http.StatusUnauthorized, ErrMessageIncorrectPassword)
	case errors.As(err, &validationErr):
		return NewServerError(http.StatusUnprocessableEntity, strings.Join(validationErr.Messages, " "))
	}

	return xerrors.Errorf("error operating on listing %q: %w", id, err)
}

func (s *Server) parseTemplates() error {
	templates, err := template.New("").
		Funcs(template.FuncMap{
			"excerpt":    func(str string) string { return stringutil.Excerpt(str, ShortDescExcerptLength) },
			"formatTime": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 MST") },
			"lifetime":   lifetimeText,
			"remaining":  remainingText,
		}).
		ParseFS(templatesFS, "templates/*.tmpl.html")
	if err != nil {
		return xerrors.Errorf("error parsing templates: %w", err)
	}

	s.templates = templates
	return nil
}

func (s *Server) render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, xerrors.Errorf("error rendering template %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (s *Server) renderResponse(statusCode int, name string, data any) (*ServerResponse, error) {
	body, err := s.render(name, data)
	if err != nil {
		return nil, err
	}
	return NewServerResponse(statusCode, body, nil), nil
}

// Fills content from a submitted form. A missing password or lifetime gets the
// same default a blank form would have shown.
func decodeContent(r *http.Request) (*rvstore.Content, error) {
	if err := parseForm(r); err != nil {
		return nil, err
	}

	content := rvstore.NewContent()
	content.Who = strings.TrimSpace(r.PostForm.Get("who"))
	content.What = strings.TrimSpace(r.PostForm.Get("what"))
	content.ShortDesc = strings.TrimSpace(r.PostForm.Get("shortdesc"))
	content.LongDesc = strings.TrimSpace(r.PostForm.Get("longdesc"))
	content.Contact = strings.TrimSpace(r.PostForm.Get("contact"))

	if password := r.PostForm.Get("password"); password != "" {
		content.Password = password
	}

	if lifetime := strings.TrimSpace(r.PostForm.Get("lifetime")); lifetime != "" {
		content.LifetimeDays = lifetime
	}

	return content, nil
}

func formPassword(r *http.Request) string {
	if password := r.PostForm.Get("password"); password != "" {
		return password
	}
	return rvstore.DefaultPassword
}

func lifetimeText(lifetime rvstore.Lifetime) string {
	if lifetime == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", lifetime)
}

// Describes how long a listing has left as of now, in whole days.
func remainingText(expiresAt, now time.Time) string {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return "expired"
	}

	days := rvstore.Lifetime(remaining / (24 * time.Hour))
	if days == 0 {
		return "less than a day"
	}
	return lifetimeText(days)
}

func parseForm(r *http.Request) error {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(nil, r.Body, MaxFormSize)
	}

	if err := r.ParseForm(); err != nil {
		return NewServerError(http.StatusBadRequest, ErrMessageFormUnparseable)
	}

	return nil
}

//
// ServerResponse
//

type ServerResponse struct {
	Body       []byte
	Header     http.Header
	StatusCode int
}

func NewServerResponse(statusCode int, body []byte, header http.Header) *ServerResponse {
	return &ServerResponse{Body: body, Header: header, StatusCode: statusCode}
}

func (s *Server) wrapEndpoint(h func(ctx context.Context, r *http.Request) (*ServerResponse, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html;charset=utf-8")

		resp, err := h(r.Context(), r)
		if err != nil {
			var serverErr *ServerError
			if !errors.As(err, &serverErr) {
				s.logger.WithFields(logrus.Fields{"http_path": r.URL.Path}).
					Errorf(s.name+": Internal server error: %v", err)
				serverErr = NewServerError(http.StatusInternalServerError, ErrMessageInternalError)
			}

			s.writeError(w, serverErr)
			return
		}

		if len(resp.Header) > 0 {
			for k, vs := range resp.Header {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
		}

		if resp.StatusCode != 0 {
			w.WriteHeader(resp.StatusCode)
		}

		_, _ = w.Write(resp.Body)
	})
}

func (s *Server) writeError(w http.ResponseWriter, serverErr *ServerError) {
	body, err := s.render("error.tmpl.html", &errorPage{Message: serverErr.Message, StatusCode: serverErr.StatusCode})
	if err != nil {
		s.logger.Errorf(s.name+": Error rendering error page: %v", err)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		body = []byte(serverErr.Message)
	}

	w.WriteHeader(serverErr.StatusCode)
	_, _ = w.Write(body)
}
