package services

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"permit_flow_app_go/models"

	qrcode "github.com/skip2/go-qrcode"
)

// QRSize is the edge in pixels of verification QR codes
const QRSize = 200

// DocumentHash is the SHA-256 over the permit fields a signer commits to
func DocumentHash(p *models.Permit) string {
	payload, _ := json.Marshal(struct {
		RequesterID   string    `json:"requester_id"`
		TypeID        string    `json:"type_id"`
		StartAt       time.Time `json:"start_at"`
		Reason        string    `json:"reason"`
		Justification string    `json:"justification"`
	}{p.RequesterID, p.TypeID, p.StartAt.UTC(), p.Reason, p.Justification})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Verification lets a reader of the printed papeleta check a digital signature
type Verification struct {
	URL       string `json:"url"`
	Hash      string `json:"hash"`
	QRDataURL string `json:"qr_data_url,omitempty"`
}

// VerificationHash is the short integrity hash embedded in verification URLs
func VerificationHash(permitID string, role models.SignatureRole, cert *CertificateInfo, signedAt time.Time) string {
	data, _ := json.Marshal(map[string]string{
		"permit_id":     permitID,
		"role":          string(role),
		"national_id":   cert.NationalID,
		"name":          cert.Name,
		"signed_at":     signedAt.UTC().Format(time.RFC3339),
		"serial_number": cert.SerialNumber,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// BuildVerification returns the verification URL and its QR code for a
// digitally signed slot
func BuildVerification(appURL, permitID string, role models.SignatureRole, cert *CertificateInfo, signedAt time.Time) (*Verification, error) {
	if cert == nil {
		return nil, ErrSignatureNotFound
	}
	hash := VerificationHash(permitID, role, cert, signedAt)
	link := fmt.Sprintf("%s/api/permits/%s/signatures/%s?hash=%s",
		strings.TrimSuffix(appURL, "/"), url.PathEscape(permitID), role, hash)

	png, err := qrcode.Encode(link, qrcode.Medium, QRSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR: %w", err)
	}

	return &Verification{
		URL:       link,
		Hash:      hash,
		QRDataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}
