package api

import "net/http"

// TokenResponse is the payload of a successful login.
type TokenResponse struct {
	Token string `json:"token"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	body, err := readObject(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	username := body.text("username")
	token, err := s.manager.Login(r.Context(), username, body.text("password"))
	if err != nil {
		s.log(r).WithField("username", username).WithError(err).Info("login rejected")
		s.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, TokenResponse{Token: token})
}
