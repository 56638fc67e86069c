package robokassa

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"sort"
	"strings"

	"github.com/stepun/botoracle/pkg/config"
)

// Signer computes and checks the merchant signatures. Password #1 signs
// outgoing payment forms and the success redirect; password #2 signs the
// server-to-server result callback.
type Signer struct {
	cfg     config.RobokassaConfig
	newHash func() hash.Hash
}

// NewSigner refuses empty passwords: with an empty secret the signature is
// computable from the public invoice alone.
func NewSigner(cfg *config.Config) (*Signer, error) {
	if cfg.Robokassa.Password1 == "" || cfg.Robokassa.Password2 == "" {
		return nil, errors.New("robokassa.password1 and robokassa.password2 must be set")
	}
	var h func() hash.Hash
	switch strings.ToLower(cfg.Robokassa.HashAlgorithm) {
	case "", "md5":
		h = md5.New
	case "sha1":
		h = sha1.New
	case "sha256":
		h = sha256.New
	case "sha384":
		h = sha512.New384
	case "sha512":
		h = sha512.New
	default:
		return nil, fmt.Errorf("unsupported robokassa hash algorithm %q", cfg.Robokassa.HashAlgorithm)
	}
	return &Signer{cfg: cfg.Robokassa, newHash: h}, nil
}

// ResultSignature is the expected SignatureValue of a result callback:
// OutSum:InvId:Password2[:Shp_key=value...], keys sorted.
func (s *Signer) ResultSignature(outSum, invID string, shp map[string]string) string {
	return s.sign(append([]string{outSum, invID, s.cfg.Password2}, shpParts(shp)...))
}

// VerifyResult checks a result callback signature in constant time.
func (s *Signer) VerifyResult(outSum, invID, signature string, shp map[string]string) bool {
	return equalSignatures(s.ResultSignature(outSum, invID, shp), signature)
}

// SuccessSignature is the expected signature on the user's success/fail
// redirect, which is signed with password #1.
func (s *Signer) SuccessSignature(outSum, invID string, shp map[string]string) string {
	return s.sign(append([]string{outSum, invID, s.cfg.Password1}, shpParts(shp)...))
}

func (s *Signer) VerifySuccess(outSum, invID, signature string, shp map[string]string) bool {
	return equalSignatures(s.SuccessSignature(outSum, invID, shp), signature)
}

type PaymentRequest struct {
	InvoiceID   string
	Amount      int64
	Description string
	Shp         map[string]string
}

// PaymentURL builds the redirect to the hosted payment form.
func (s *Signer) PaymentURL(req PaymentRequest) (string, error) {
	if s.cfg.MerchantLogin == "" {
		return "", fmt.Errorf("robokassa merchant login is not configured")
	}
	outSum := FormatAmount(req.Amount)
	sig := s.sign(append([]string{s.cfg.MerchantLogin, outSum, req.InvoiceID, s.cfg.Password1}, shpParts(req.Shp)...))

	q := url.Values{}
	q.Set("MerchantLogin", s.cfg.MerchantLogin)
	q.Set("OutSum", outSum)
	q.Set("InvId", req.InvoiceID)
	q.Set("Description", req.Description)
	q.Set("SignatureValue", sig)
	if s.cfg.Culture != "" {
		q.Set("Culture", s.cfg.Culture)
	}
	if s.cfg.IsTest {
		q.Set("IsTest", "1")
	}
	for k, v := range req.Shp {
		q.Set(k, v)
	}
	return s.cfg.BaseURL + "?" + q.Encode(), nil
}

func (s *Signer) sign(parts []string) string {
	h := s.newHash()
	h.Write([]byte(strings.Join(parts, ":")))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

// shpParts renders custom Shp_ parameters as key=value, sorted by key.
func shpParts(shp map[string]string) []string {
	if len(shp) == 0 {
		return nil
	}
	keys := make([]string, 0, len(shp))
	for k := range shp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+shp[k])
	}
	return parts
}

func equalSignatures(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToUpper(strings.TrimSpace(got)))) == 1
}

// ShpParams extracts the custom Shp_ fields from a callback form.
func ShpParams(form url.Values) map[string]string {
	var shp map[string]string
	for k := range form {
		if strings.HasPrefix(k, "Shp_") || strings.HasPrefix(k, "shp_") {
			if shp == nil {
				shp = make(map[string]string)
			}
			shp[k] = form.Get(k)
		}
	}
	return shp
}
