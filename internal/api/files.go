package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"

	"github.com/npezzotti/go-dirchat/internal/database"
	"github.com/npezzotti/go-dirchat/internal/files"
	"github.com/npezzotti/go-dirchat/internal/server"
	"github.com/npezzotti/go-dirchat/internal/types"
)

const (
	uploadField = "file"
	// room for multipart headers on top of the file itself
	multipartOverhead = 1 << 20
)

// readUpload stores the multipart "file" field of r for userId.
func (s *GoChatApp) readUpload(w http.ResponseWriter, r *http.Request, userId int) (database.File, *ApiError) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)

	src, header, err := r.FormFile(uploadField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return database.File{}, NewRequestEntityTooLargeError()
		}
		return database.File{}, NewBadRequestError()
	}
	defer src.Close()

	return s.storeUpload(r.Context(), userId, header.Filename, src)
}

func (s *GoChatApp) storeUpload(ctx context.Context, userId int, name string, src io.Reader) (database.File, *ApiError) {
	display, err := files.CleanName(name)
	if err != nil {
		return database.File{}, NewValidationError(err)
	}

	stored, size, err := s.files.Save(display, src, s.maxUploadBytes)
	if err != nil {
		if errors.Is(err, files.ErrTooLarge) {
			return database.File{}, NewRequestEntityTooLargeError()
		}
		return database.File{}, NewInternalServerError(err)
	}

	f, err := s.db.CreateFile(ctx, database.CreateFileParams{
		Filename:   display,
		StoredName: stored,
		UserId:     userId,
		Size:       size,
	})
	if err != nil {
		if rmErr := s.files.Remove(stored); rmErr != nil {
			s.log.Warn().Err(rmErr).Str("stored_name", stored).Msg("remove orphaned blob")
		}
		return database.File{}, NewInternalServerError(err)
	}
	f.StoredName = stored

	return f, nil
}

// discardUpload removes a file that never made it into a message.
func (s *GoChatApp) discardUpload(ctx context.Context, f database.File) {
	if err := s.db.DeleteFile(ctx, f.Id); err != nil {
		s.log.Warn().Err(err).Int("file_id", f.Id).Msg("delete unsent file")
	}
	if err := s.files.Remove(f.StoredName); err != nil {
		s.log.Warn().Err(err).Int("file_id", f.Id).Msg("remove unsent blob")
	}
}

func (s *GoChatApp) uploadFile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(w, r)
	if !ok {
		return
	}

	f, errResp := s.readUpload(w, r, sess.UserId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.File{
		Id:       f.Id,
		Filename: f.Filename,
		Filesize: f.Size,
	})
}

// uploadAndSend stores the file and delivers it to the recipient as a
// message captioned with the file name.
func (s *GoChatApp) uploadAndSend(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(w, r)
	if !ok {
		return
	}

	recipientId, ok := pathId(r, "recipientId")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	f, errResp := s.readUpload(w, r, sess.UserId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	msg, err := s.cs.Deliver(r.Context(), sess.authContext(), server.DeliveryRequest{
		RecipientId: recipientId,
		Content:     "Sent file: " + f.Filename,
		FileIds:     []int{f.Id},
	})
	if err != nil {
		s.discardUpload(context.WithoutCancel(r.Context()), f)
		s.writeError(w, errorFromCore(err))
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *GoChatApp) downloadFile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(w, r)
	if !ok {
		return
	}

	id, ok := pathId(r, "id")
	if !ok {
		s.writeError(w, NewBadRequestError())
		return
	}

	f, err := s.cs.FileForDownload(r.Context(), sess.authContext(), id)
	if err != nil {
		s.writeError(w, errorFromCore(err))
		return
	}

	blob, err := s.files.Open(f.StoredName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.writeError(w, NewNotFoundError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Filename}))
	http.ServeContent(w, r, f.Filename, f.CreatedAt, blob)
}
