package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"library-api/library"
)

// Library is the domain service the handlers call. *library.LibraryManager
// implements it.
type Library interface {
	Ping(ctx context.Context) error

	ListBooks(ctx context.Context, status string) ([]*library.Book, error)
	GetBook(ctx context.Context, id int64) (*library.Book, error)
	CreateBook(ctx context.Context, p library.BookPatch) (*library.Book, error)
	UpdateBook(ctx context.Context, id int64, p library.BookPatch, partial bool) (*library.Book, error)
	DeleteBook(ctx context.Context, id int64) error
	BorrowBook(ctx context.Context, bookID, memberID int64) (*library.Book, error)
	ReturnBook(ctx context.Context, bookID int64) (*library.Book, error)

	ListMembers(ctx context.Context) ([]*library.Member, error)
	GetMember(ctx context.Context, id int64) (*library.Member, error)
	CreateMember(ctx context.Context, p library.MemberPatch) (*library.Member, error)
	UpdateMember(ctx context.Context, id int64, p library.MemberPatch, partial bool) (*library.Member, error)
	DeleteMember(ctx context.Context, id int64) error

	Login(ctx context.Context, username, password string) (string, error)
	Authenticate(ctx context.Context, key string) (*library.User, error)
}

// Server is the HTTP front end of the library.
type Server struct {
	manager Library
	logger  *logrus.Logger
	metrics *Metrics
	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request metrics and serves them at /metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer builds the router and middleware chain around manager.
func NewServer(manager Library, logger *logrus.Logger, opts ...Option) *Server {
	s := &Server{manager: manager, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = requestID(s.accessLog(s.recoverer(s.routes())))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteErrors(w, http.StatusNotFound, msgNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteErrors(w, http.StatusMethodNotAllowed, methodNotAllowed(r.Method))
	})
	r.Use(s.metrics.middleware)

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet, http.MethodHead)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/auth/login{slash:/?}", s.login).Methods(http.MethodPost)

	authed := r.NewRoute().Subrouter()
	authed.Use(s.authenticate)

	authed.HandleFunc("/books{slash:/?}", s.listBooks).Methods(http.MethodGet)
	authed.HandleFunc("/books{slash:/?}", s.createBook).Methods(http.MethodPost)
	authed.HandleFunc("/books/{id:[0-9]+}{slash:/?}", s.getBook).Methods(http.MethodGet)
	authed.HandleFunc("/books/{id:[0-9]+}{slash:/?}", s.updateBook).Methods(http.MethodPut, http.MethodPatch)
	authed.HandleFunc("/books/{id:[0-9]+}{slash:/?}", s.deleteBook).Methods(http.MethodDelete)
	authed.HandleFunc("/books/{id:[0-9]+}/borrow{slash:/?}", s.borrowBook).Methods(http.MethodPost)
	authed.HandleFunc("/books/{id:[0-9]+}/return{slash:/?}", s.returnBook).Methods(http.MethodPost)
	authed.HandleFunc("/books/{id:[0-9]+}/return_book{slash:/?}", s.returnBook).Methods(http.MethodPost)

	authed.HandleFunc("/members{slash:/?}", s.listMembers).Methods(http.MethodGet)
	authed.HandleFunc("/members{slash:/?}", s.createMember).Methods(http.MethodPost)
	authed.HandleFunc("/members/{id:[0-9]+}{slash:/?}", s.getMember).Methods(http.MethodGet)
	authed.HandleFunc("/members/{id:[0-9]+}{slash:/?}", s.updateMember).Methods(http.MethodPut, http.MethodPatch)
	authed.HandleFunc("/members/{id:[0-9]+}{slash:/?}", s.deleteMember).Methods(http.MethodDelete)

	return r
}

// pathID reads the {id} route variable. Ids too large for int64 match no
// record.
func pathID(r *http.Request, entity string) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &library.NotFoundError{Entity: entity}
	}
	return id, nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Ping(r.Context()); err != nil {
		s.log(r).WithError(err).Warn("health check failed")
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}
