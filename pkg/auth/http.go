package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Role  Role   `json:"role"`
}

// LoginHandler serves POST /login.
func (s *Service) LoginHandler(writer http.ResponseWriter, request *http.Request) {
	var in loginRequest
	if err := json.NewDecoder(request.Body).Decode(&in); err != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	token, role, err := s.Login(in.Username, in.Password)
	if err != nil {
		slog.Warn("login rejected", "username", in.Username)
		writeJSON(writer, http.StatusUnauthorized, map[string]string{"message": "Credenciales inválidas"})
		return
	}
	writeJSON(writer, http.StatusOK, loginResponse{Token: token, Role: role})
}

func writeJSON(writer http.ResponseWriter, status int, body interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		slog.Error("failed to write response", "err", err)
	}
}
