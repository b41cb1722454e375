package server

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"whatsapp-pair-server/session"
	"whatsapp-pair-server/types"
)

const qrSize = 256

type pairResponse struct {
	PairingCode     string `json:"pairing_code"`
	SessionID       string `json:"session_id"`
	SessionDownload string `json:"session_download"`
}

type sessionResponse struct {
	types.Session
	ArchiveReady bool `json:"archive_ready"`
	Supervised   bool `json:"supervised"`
}

func errorJSON(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handlePair(c *gin.Context) {
	phone := strings.TrimSpace(c.Query("q"))
	if phone == "" {
		errorJSON(c, http.StatusBadRequest, errors.New("missing query parameter q"))
		return
	}
	if _, err := session.NormalizePhone(phone); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	res, err := s.manager.Pair(c.Request.Context(), phone)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, pairResponse{
		PairingCode:     res.Code,
		SessionID:       res.Session.ID,
		SessionDownload: s.opts.PublicURL + session.DownloadPath(res.Session.ID),
	})
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.manager.List()})
}

// handleSession serves /session/<id>.zip downloads and /session/<id> status
func (s *Server) handleSession(c *gin.Context) {
	param := c.Param("id")
	if id, ok := strings.CutSuffix(param, ".zip"); ok {
		s.handleDownload(c, id)
		return
	}

	sess, supervised, err := s.lookup(param)
	if err != nil {
		errorJSON(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{
		Session:      sess,
		ArchiveReady: fileExists(sess.ArchivePath),
		Supervised:   supervised,
	})
}

func (s *Server) handleDownload(c *gin.Context, id string) {
	sess, err := s.manager.Registry().Resolve(id)
	if err != nil {
		errorJSON(c, http.StatusNotFound, err)
		return
	}
	if !fileExists(sess.ArchivePath) {
		errorJSON(c, http.StatusNotFound, errors.New("session archive not available yet"))
		return
	}
	c.FileAttachment(sess.ArchivePath, id+".zip")
}

func (s *Server) handleQR(c *gin.Context) {
	sup, ok := s.manager.Get(c.Param("id"))
	if !ok {
		errorJSON(c, http.StatusNotFound, types.ErrNotFound)
		return
	}
	code, ok := sup.QRCode()
	if !ok {
		errorJSON(c, http.StatusNotFound, errors.New("no login QR code available"))
		return
	}
	png, err := qrcode.Encode(code, qrcode.Medium, qrSize)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.manager.Stop(c.Param("id")); err != nil {
		errorJSON(c, http.StatusNotFound, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) lookup(id string) (types.Session, bool, error) {
	if sup, ok := s.manager.Get(id); ok {
		return sup.Snapshot(), true, nil
	}
	sess, err := s.manager.Registry().Resolve(id)
	if err != nil {
		return types.Session{}, false, err
	}
	return sess, false, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
