package services

import (
	"context"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// oidSignedData identifies PKCS#7 / CMS SignedData content
var oidSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

// nationalIDRegex extracts the 8-digit DNI carried in certificate subjects
var nationalIDRegex = regexp.MustCompile(`(\d{8})`)

// CertificateInfo is the metadata kept from a signer certificate
type CertificateInfo struct {
	Name         string    `json:"name"`
	NationalID   string    `json:"national_id,omitempty"`
	Issuer       string    `json:"issuer"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	SerialNumber string    `json:"serial_number"`
	Subject      string    `json:"subject,omitempty"`
	IssuerDN     string    `json:"issuer_dn,omitempty"`
}

// DaysRemaining returns the whole days until the certificate expires
func (c *CertificateInfo) DaysRemaining(now time.Time) int {
	return int(c.NotAfter.Sub(now).Hours() / 24)
}

// CertificateResult is the verdict of a certificate validator
type CertificateResult struct {
	Valid  bool             `json:"valid"`
	Reason string           `json:"reason,omitempty"`
	Info   *CertificateInfo `json:"certificate,omitempty"`
}

// CertificateValidator checks a digital signature payload for a signer.
// An error means the validator itself failed; an invalid signature is
// reported through the result.
type CertificateValidator interface {
	Validate(ctx context.Context, payload string, signerID string) (*CertificateResult, error)
}

// PKCS7Validator validates base64 DER PKCS#7 SignedData blobs. It checks
// structure, the signer certificate validity window and the national id;
// it does not build or verify a trust chain.
type PKCS7Validator struct {
	Now func() time.Time
}

// NewPKCS7Validator creates a validator using the system clock
func NewPKCS7Validator() *PKCS7Validator {
	return &PKCS7Validator{Now: time.Now}
}

// Validate implements CertificateValidator
func (v *PKCS7Validator) Validate(ctx context.Context, payload string, signerID string) (*CertificateResult, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return &CertificateResult{Valid: false, Reason: "signature is not valid base64"}, nil
	}

	cert, err := ParsePKCS7Certificate(der)
	if err != nil {
		return &CertificateResult{Valid: false, Reason: err.Error()}, nil
	}

	info := ExtractCertificateInfo(cert)

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	if now.Before(info.NotBefore) {
		return &CertificateResult{Valid: false, Reason: "certificate is not valid yet", Info: info}, nil
	}
	if now.After(info.NotAfter) {
		return &CertificateResult{Valid: false, Reason: "certificate has expired", Info: info}, nil
	}

	if signerID != "" {
		if info.NationalID == "" {
			return &CertificateResult{Valid: false, Reason: "could not extract the national id from the certificate", Info: info}, nil
		}
		if info.NationalID != signerID {
			return &CertificateResult{
				Valid:  false,
				Reason: fmt.Sprintf("certificate national id (%s) does not match the signer (%s)", info.NationalID, signerID),
				Info:   info,
			}, nil
		}
	}

	return &CertificateResult{Valid: true, Info: info}, nil
}

// ParsePKCS7Certificate returns the first certificate embedded in a DER
// ContentInfo wrapping SignedData with encapsulated content
func ParsePKCS7Certificate(der []byte) (*x509.Certificate, error) {
	input := cryptobyte.String(der)

	var contentInfo cryptobyte.String
	if !input.ReadASN1(&contentInfo, cbasn1.SEQUENCE) {
		return nil, errors.New("invalid PKCS#7: malformed ContentInfo")
	}

	var contentType asn1.ObjectIdentifier
	if !contentInfo.ReadASN1ObjectIdentifier(&contentType) {
		return nil, errors.New("invalid PKCS#7: missing content type")
	}
	if !contentType.Equal(oidSignedData) {
		return nil, errors.New("invalid PKCS#7: content is not SignedData")
	}

	var explicit, signedData cryptobyte.String
	if !contentInfo.ReadASN1(&explicit, cbasn1.Tag(0).Constructed().ContextSpecific()) ||
		!explicit.ReadASN1(&signedData, cbasn1.SEQUENCE) {
		return nil, errors.New("invalid PKCS#7: malformed SignedData")
	}

	var version int64
	if !signedData.ReadASN1Integer(&version) || !signedData.SkipASN1(cbasn1.SET) {
		return nil, errors.New("invalid PKCS#7: malformed SignedData header")
	}

	var encapsulated cryptobyte.String
	if !signedData.ReadASN1(&encapsulated, cbasn1.SEQUENCE) {
		return nil, errors.New("invalid PKCS#7: missing encapsulated content")
	}
	var encapsulatedType asn1.ObjectIdentifier
	var content cryptobyte.String
	var hasContent bool
	if !encapsulated.ReadASN1ObjectIdentifier(&encapsulatedType) ||
		!encapsulated.ReadOptionalASN1(&content, &hasContent, cbasn1.Tag(0).Constructed().ContextSpecific()) {
		return nil, errors.New("invalid PKCS#7: malformed encapsulated content")
	}
	if !hasContent || content.Empty() {
		return nil, errors.New("invalid PKCS#7: signature has no content")
	}

	var certs cryptobyte.String
	var hasCerts bool
	if !signedData.ReadOptionalASN1(&certs, &hasCerts, cbasn1.Tag(0).Constructed().ContextSpecific()) {
		return nil, errors.New("invalid PKCS#7: malformed certificate set")
	}
	if !hasCerts || certs.Empty() {
		return nil, errors.New("no certificate found in the signature")
	}

	var certDER cryptobyte.String
	if !certs.ReadASN1Element(&certDER, cbasn1.SEQUENCE) {
		return nil, errors.New("invalid PKCS#7: malformed certificate")
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("invalid signer certificate: %w", err)
	}
	return cert, nil
}

// ExtractCertificateInfo pulls signer name, national id, issuer and
// validity window out of a certificate
func ExtractCertificateInfo(cert *x509.Certificate) *CertificateInfo {
	info := &CertificateInfo{
		Name:         cert.Subject.CommonName,
		Issuer:       "Unknown",
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		SerialNumber: strings.ToUpper(cert.SerialNumber.Text(16)),
		Subject:      cert.Subject.String(),
		IssuerDN:     cert.Issuer.String(),
	}

	// The DNI is usually in serialNumber, sometimes only in the CN
	if m := nationalIDRegex.FindString(cert.Subject.SerialNumber); m != "" {
		info.NationalID = m
	} else if m := nationalIDRegex.FindString(cert.Subject.CommonName); m != "" {
		info.NationalID = m
	}

	if len(cert.Issuer.Organization) > 0 {
		info.Issuer = cert.Issuer.Organization[0]
	}
	return info
}
