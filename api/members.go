package api

import (
	"net/http"

	"library-api/library"
)

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.manager.ListMembers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, members)
}

func (s *Server) getMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "Member")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	member, err := s.manager.GetMember(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, member)
}

func (s *Server) createMember(w http.ResponseWriter, r *http.Request) {
	p, err := s.decodeMember(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	member, err := s.manager.CreateMember(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, member)
}

func (s *Server) updateMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "Member")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.manager.GetMember(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	partial := r.Method == http.MethodPatch
	p, err := s.decodeMember(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	member, err := s.manager.UpdateMember(r.Context(), id, p, partial)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, member)
}

func (s *Server) deleteMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "Member")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.manager.DeleteMember(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) decodeMember(w http.ResponseWriter, r *http.Request) (library.MemberPatch, error) {
	body, err := readObject(w, r)
	if err != nil {
		return library.MemberPatch{}, err
	}
	return memberPatch(body), nil
}
