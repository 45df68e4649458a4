package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	commonerrors "github.com/ClipFinance/faucet-relay/common/errors"
	"github.com/ClipFinance/faucet-relay/relay"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// executeRequest is the body of POST /execute. The nonce may be a JSON string or number;
// it is kept raw so numbers above 2^53 are not rounded.
type executeRequest struct {
	UserAddress string          `json:"userAddress"`
	Nonce       json.RawMessage `json:"nonce"`
	Signature   string          `json:"signature"`
}

func (s *Server) execute(c *gin.Context) {
	logger := s.entry(c)

	var body executeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		logger.WithError(err).Debug("Rejected malformed request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	nonce, err := nonceString(body.Nonce)
	if err != nil {
		s.fail(c, logger, commonerrors.New(commonerrors.KindBadRequest, errors.Wrap(relay.ErrInvalidNonce, err.Error())))
		return
	}

	logger.WithFields(logrus.Fields{
		"claimant": body.UserAddress,
		"nonce":    nonce,
	}).Info("Received meta-transaction request")

	claim, err := relay.ParseClaimRequest(body.UserAddress, nonce, body.Signature)
	if err != nil {
		s.fail(c, logger, err)
		return
	}

	outcome, err := s.relayer.Relay(c.Request.Context(), claim)
	if err != nil {
		s.fail(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

func (s *Server) status(c *gin.Context) {
	report, err := s.relayer.Status(c.Request.Context(), c.Param("txHash"))
	if err != nil {
		s.fail(c, s.entry(c), err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) messageHash(c *gin.Context) {
	hash, err := s.relayer.MessageHash(c.Request.Context(), c.Query("userAddress"), c.Query("nonce"))
	if err != nil {
		s.fail(c, s.entry(c), err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messageHash": hash.Hex()})
}

func (s *Server) healthz(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail maps err to its status code and writes {"error": message}.
func (s *Server) fail(c *gin.Context, logger *logrus.Entry, err error) {
	kind := commonerrors.KindOf(err)
	code := kind.HTTPStatus()

	entry := logger.WithError(err).WithField("kind", kind)
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Info("Request rejected")
	}

	c.JSON(code, gin.H{"error": err.Error()})
}

func (s *Server) entry(c *gin.Context) *logrus.Entry {
	return s.logger.WithField("requestID", c.GetString(requestIDKey))
}

// nonceString returns the nonce text of a JSON string or number, or "" when absent.
func nonceString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", err
		}
		return text, nil
	}

	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return "", err
	}
	return number.String(), nil
}
