package transport

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"
)

var dkimHeaderKeys = []string{
	"from",
	"to",
	"cc",
	"reply-to",
	"subject",
	"date",
	"mime-version",
	"content-type",
	"message-id",
}

// DKIMSigner applies DKIM signatures to outgoing messages.
type DKIMSigner struct {
	domain   string
	selector string
	key      crypto.Signer
}

// NewDKIMSigner builds a signer from cfg. It returns nil, nil when DKIM is not
// configured.
func NewDKIMSigner(cfg DKIMConfig) (*DKIMSigner, error) {
	selector := strings.TrimSpace(cfg.Selector)
	keyPath := strings.TrimSpace(cfg.PrivateKeyPath)
	if selector == "" && keyPath == "" && cfg.PrivateKey == "" {
		return nil, nil
	}
	if selector == "" {
		return nil, errors.New("dkim: selector is required when enabling DKIM")
	}

	var pemData []byte
	switch {
	case cfg.PrivateKey != "":
		pemData = []byte(cfg.PrivateKey)
	case keyPath != "":
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("dkim: read private key: %w", err)
		}
		pemData = data
	default:
		return nil, errors.New("dkim: provide private_key_path or private_key")
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}

	return &DKIMSigner{
		domain:   strings.ToLower(strings.TrimSpace(cfg.Domain)),
		selector: selector,
		key:      key,
	}, nil
}

// Sign returns msg with a DKIM-Signature header prepended. The signing domain
// defaults to the sender's domain. A nil signer returns msg unchanged.
func (s *DKIMSigner) Sign(msg []byte, from string) ([]byte, error) {
	if s == nil {
		return msg, nil
	}

	domain := s.domain
	if domain == "" {
		domain = domainOf(from)
	}
	if domain == "" {
		return nil, errors.New("dkim: unable to determine signing domain")
	}

	opts := &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             dkimHeaderKeys,
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(msg), opts); err != nil {
		return nil, fmt.Errorf("dkim: signing failed: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			return x509.ParsePKCS1PrivateKey(block.Bytes)
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if signer, ok := key.(crypto.Signer); ok {
				return signer, nil
			}
			return nil, errors.New("unsupported private key type in PKCS#8 container")
		}
		pemData = rest
	}
	return nil, errors.New("no private key found in PEM data")
}

func domainOf(address string) string {
	address = strings.Trim(strings.TrimSpace(address), "<>")
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return strings.ToLower(address[i+1:])
	}
	return ""
}
