package catalog

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const maxBody = 1 << 20

type Server struct {
	store *Store
}

func NewServer(store *Store) *Server {
	return &Server{store: store}
}

// Register mounts GET/POST /{collection} and GET/PUT/DELETE /{collection}/{id}.
func (s *Server) Register(router *mux.Router) {
	router.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.Methods(http.MethodGet).Path("/{collection}").HandlerFunc(s.list)
	router.Methods(http.MethodPost).Path("/{collection}").HandlerFunc(s.create)
	router.Methods(http.MethodGet).Path("/{collection}/{id}").HandlerFunc(s.get)
	router.Methods(http.MethodPut).Path("/{collection}/{id}").HandlerFunc(s.replace)
	router.Methods(http.MethodDelete).Path("/{collection}/{id}").HandlerFunc(s.delete)
}

func (s *Server) collection(writer http.ResponseWriter, request *http.Request) (Collection, bool) {
	c, ok := ParseCollection(mux.Vars(request)["collection"])
	if !ok {
		writeError(writer, http.StatusNotFound, "unknown collection")
	}
	return c, ok
}

func (s *Server) list(writer http.ResponseWriter, request *http.Request) {
	c, ok := s.collection(writer, request)
	if !ok {
		return
	}
	if c.IsAccounts() {
		docs, err := s.store.ListAccounts(request.Context(), c)
		s.respond(writer, http.StatusOK, docs, err)
		return
	}
	items, err := s.store.ListItems(request.Context(), c)
	s.respond(writer, http.StatusOK, items, err)
}

func (s *Server) get(writer http.ResponseWriter, request *http.Request) {
	c, ok := s.collection(writer, request)
	if !ok {
		return
	}
	id := mux.Vars(request)["id"]
	if c.IsAccounts() {
		doc, err := s.store.GetAccount(request.Context(), c, id)
		s.respond(writer, http.StatusOK, doc, err)
		return
	}
	item, err := s.store.GetItem(request.Context(), c, id)
	s.respond(writer, http.StatusOK, item, err)
}

func (s *Server) create(writer http.ResponseWriter, request *http.Request) {
	c, ok := s.collection(writer, request)
	if !ok {
		return
	}
	body, ok := readBody(writer, request)
	if !ok {
		return
	}
	if c.IsAccounts() {
		doc, err := s.store.CreateAccount(request.Context(), c, body)
		s.respond(writer, http.StatusCreated, doc, err)
		return
	}
	var item Item
	if err := json.Unmarshal(body, &item); err != nil {
		writeError(writer, http.StatusBadRequest, "invalid item")
		return
	}
	created, err := s.store.CreateItem(request.Context(), c, item)
	s.respond(writer, http.StatusCreated, created, err)
}

func (s *Server) replace(writer http.ResponseWriter, request *http.Request) {
	c, ok := s.collection(writer, request)
	if !ok {
		return
	}
	id := mux.Vars(request)["id"]
	body, ok := readBody(writer, request)
	if !ok {
		return
	}
	if c.IsAccounts() {
		doc, err := s.store.ReplaceAccount(request.Context(), c, id, body)
		s.respond(writer, http.StatusOK, doc, err)
		return
	}
	var item Item
	if err := json.Unmarshal(body, &item); err != nil {
		writeError(writer, http.StatusBadRequest, "invalid item")
		return
	}
	updated, err := s.store.UpdateItem(request.Context(), c, id, item)
	s.respond(writer, http.StatusOK, updated, err)
}

func (s *Server) delete(writer http.ResponseWriter, request *http.Request) {
	c, ok := s.collection(writer, request)
	if !ok {
		return
	}
	id := mux.Vars(request)["id"]
	var err error
	if c.IsAccounts() {
		err = s.store.DeleteAccount(request.Context(), c, id)
	} else {
		err = s.store.DeleteItem(request.Context(), c, id)
	}
	s.respond(writer, http.StatusOK, struct{}{}, err)
}

func (s *Server) respond(writer http.ResponseWriter, status int, v interface{}, err error) {
	var verr *ValidationError
	switch {
	case err == nil:
		writeJSON(writer, status, v)
	case errors.As(err, &verr):
		writeError(writer, http.StatusBadRequest, verr.Error())
	case errors.Is(err, ErrNotFound):
		writeError(writer, http.StatusNotFound, "not found")
	case errors.Is(err, ErrConflict):
		writeError(writer, http.StatusConflict, "already exists")
	default:
		slog.Error("catalog request failed", "err", err)
		writeError(writer, http.StatusInternalServerError, "store unavailable")
	}
}

func readBody(writer http.ResponseWriter, request *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(writer, request.Body, maxBody))
	if err != nil {
		writeError(writer, http.StatusBadRequest, "failed to read body")
		return nil, false
	}
	return body, true
}

func writeError(writer http.ResponseWriter, status int, message string) {
	writeJSON(writer, status, map[string]string{"message": message})
}

func writeJSON(writer http.ResponseWriter, status int, v interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		slog.Error("failed to write response", "err", err)
	}
}
