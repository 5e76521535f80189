package services

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log"
	"time"

	"permit_flow_app_go/models"
)

//go:embed templates/documents/papeleta.html
var documentTemplates embed.FS

var papeletaTemplate = template.Must(template.ParseFS(documentTemplates, "templates/documents/papeleta.html"))

const documentTimeLayout = "02/01/2006 15:04"

// formatForDocument prints t in loc the way papeletas show dates
func formatForDocument(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(documentTimeLayout)
}

// signatureView is one slot on the printed papeleta
type signatureView struct {
	RoleName        string
	Signed          bool
	SignedAt        string
	Image           template.URL
	QRCode          template.URL
	CertificateName string
	CertificateID   string
}

type papeletaView struct {
	Number             string
	TypeName           string
	RequesterID        string
	Reason             string
	Justification      string
	VisitedInstitution string
	StartAt            string
	EndAt              string
	ExpectedReturnAt   string
	ReturnedAt         string
	StateName          string
	RejectionNote      string
	Signatures         []signatureView
	GeneratedAt        string
	DocumentHash       string
}

// RenderPermitHTML renders the papeleta of a permit. The permit must have
// its Type and State loaded.
func RenderPermitHTML(p *models.Permit, appURL string, loc *time.Location, now time.Time) (string, error) {
	view := papeletaView{
		Number:        p.Number(),
		TypeName:      p.Type.Name,
		RequesterID:   p.RequesterID,
		Reason:        p.Reason,
		Justification: p.Justification,
		StartAt:       formatForDocument(p.StartAt, loc),
		StateName:     p.State.Name,
		RejectionNote: p.RejectionNote,
		GeneratedAt:   formatForDocument(now, loc),
		DocumentHash:  p.DocumentHash,
	}
	if p.VisitedInstitution != nil {
		view.VisitedInstitution = *p.VisitedInstitution
	}
	if p.EndAt != nil {
		view.EndAt = formatForDocument(*p.EndAt, loc)
	}
	if p.ExpectedReturnAt != nil {
		view.ExpectedReturnAt = formatForDocument(*p.ExpectedReturnAt, loc)
	}
	if p.ReturnedAt != nil {
		view.ReturnedAt = formatForDocument(*p.ReturnedAt, loc)
	}

	for _, role := range RequiredRoles(&p.Type) {
		view.Signatures = append(view.Signatures, buildSignatureView(p, role, appURL, loc))
	}

	var buf bytes.Buffer
	if err := papeletaTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render papeleta: %w", err)
	}
	return buf.String(), nil
}

func buildSignatureView(p *models.Permit, role models.SignatureRole, appURL string, loc *time.Location) signatureView {
	slot := p.Slot(role)
	view := signatureView{RoleName: role.DisplayName(), Signed: slot.IsSigned()}
	if !view.Signed {
		return view
	}
	view.SignedAt = formatForDocument(*slot.SignedAt, loc)

	if slot.Method != nil && *slot.Method == models.MethodManual && slot.Payload != nil {
		// Only data URLs that passed the image check are trusted as src
		if ValidateManualPayload(*slot.Payload) == nil {
			view.Image = template.URL(*slot.Payload)
		}
		return view
	}

	cert, err := CertificateOf(slot)
	if err != nil || cert == nil {
		return view
	}
	view.CertificateName = cert.Name
	view.CertificateID = cert.NationalID

	verification, err := BuildVerification(appURL, p.ID, role, cert, *slot.SignedAt)
	if err != nil {
		log.Printf("[PDF] Failed to build QR for %s %s: %v", p.Number(), role, err)
		return view
	}
	view.QRCode = template.URL(verification.QRDataURL)
	return view
}
