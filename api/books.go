package api

import (
	"net/http"

	"library-api/library"
)

func (s *Server) listBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.manager.ListBooks(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, books)
}

func (s *Server) getBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "Book")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	book, err := s.manager.GetBook(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, book)
}

func (s *Server) createBook(w http.ResponseWriter, r *http.Request) {
	p, err := s.decodeBook(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	book, err := s.manager.CreateBook(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, book)
}

func (s *Server) updateBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "Book")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.manager.GetBook(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	partial := r.Method == http.MethodPatch
	p, err := s.decodeBook(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	book, err := s.manager.UpdateBook(r.Context(), id, p, partial)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, book)
}

func (s *Server) deleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "Book")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.manager.DeleteBook(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) borrowBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "Book")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := readObject(w, r)
	if err != nil {
		// a missing book still wins over a bad body
		if _, gerr := s.manager.GetBook(r.Context(), id); gerr != nil {
			err = gerr
		}
		s.writeError(w, r, err)
		return
	}
	book, err := s.manager.BorrowBook(r.Context(), id, body.memberID())
	s.metrics.RecordCirculation("borrow", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, book)
}

func (s *Server) returnBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "Book")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	book, err := s.manager.ReturnBook(r.Context(), id)
	s.metrics.RecordCirculation("return", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, book)
}

// decodeBook reads a book payload. Fields that fail to decode travel with
// the patch so they are reported together with the validation results.
func (s *Server) decodeBook(w http.ResponseWriter, r *http.Request) (library.BookPatch, error) {
	body, err := readObject(w, r)
	if err != nil {
		return library.BookPatch{}, err
	}
	return bookPatch(body), nil
}
