package vertex

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
)

// ParsePrivateKey turns the private_key field of a service account into an RSA key.
// Keys pasted through shells or secret managers often arrive with CRLF line endings,
// escaped newlines, terminal escape sequences or lost line wrapping; all of those are repaired
// before decoding. Both PKCS#8 ("PRIVATE KEY") and PKCS#1 ("RSA PRIVATE KEY") blocks are accepted.
func ParsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	pk := strings.ReplaceAll(raw, `\n`, "\n")
	pk = strings.ReplaceAll(pk, "\r\n", "\n")
	pk = strings.ReplaceAll(pk, "\r", "\n")
	pk = stripANSIEscape(pk)
	pk = strings.ToValidUTF8(pk, "")
	pk = strings.TrimSpace(pk)
	if pk == "" {
		return nil, fmt.Errorf("private_key is empty")
	}

	block, _ := pem.Decode([]byte(pk))
	if block == nil {
		rebuilt, err := rebuildPEM(pk)
		if err != nil {
			return nil, fmt.Errorf("private_key is not valid pem: %w", err)
		}
		block = rebuilt
	}
	return rsaKeyFromBlock(block)
}

func rsaKeyFromBlock(block *pem.Block) (*rsa.PrivateKey, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("private_key invalid rsa: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("private_key invalid pkcs8: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private_key is not an RSA key")
		}
		return rsaKey, nil
	}

	// Unknown block label: try PKCS#8 first, then PKCS#1.
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, fmt.Errorf("private_key is not an RSA key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("private_key uses unsupported format %q", block.Type)
}

// rebuildPEM recovers a PEM block whose line structure was mangled in transit.
func rebuildPEM(raw string) (*pem.Block, error) {
	kind := "PRIVATE KEY"
	if strings.Contains(raw, "RSA PRIVATE KEY") {
		kind = "RSA PRIVATE KEY"
	}
	header := "-----BEGIN " + kind + "-----"
	footer := "-----END " + kind + "-----"
	start := strings.Index(raw, header)
	end := strings.Index(raw, footer)
	if start < 0 || end <= start {
		return nil, fmt.Errorf("missing pem markers")
	}
	payload := filterBase64(raw[start+len(header) : end])
	if payload == "" {
		return nil, fmt.Errorf("private_key base64 payload empty")
	}
	der, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("private_key base64 decode failed: %w", err)
	}
	return &pem.Block{Type: kind, Bytes: der}, nil
}

func filterBase64(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == '/' || r == '=':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripANSIEscape(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in))
	for i := 0; i < len(in); i++ {
		r := in[i]
		if r != 0x1b {
			out = append(out, r)
			continue
		}
		if i+1 >= len(in) {
			continue
		}
		switch in[i+1] {
		case ']':
			// OSC: terminated by BEL or ESC '\'.
			i += 2
			for i < len(in) {
				if in[i] == 0x07 {
					break
				}
				if in[i] == 0x1b && i+1 < len(in) && in[i+1] == '\\' {
					i++
					break
				}
				i++
			}
		case '[':
			// CSI: terminated by a letter.
			i += 2
			for i < len(in) {
				if (in[i] >= 'A' && in[i] <= 'Z') || (in[i] >= 'a' && in[i] <= 'z') {
					break
				}
				i++
			}
		}
	}
	return string(out)
}
