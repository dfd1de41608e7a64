package agent

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/signdesk/signdesk/internal/document"
)

const dateLayout = "2006-01-02"

// certificateFromPEM extracts the recorded certificate fields from a PEM
// encoded X.509 certificate. The chain is not validated.
func certificateFromPEM(data string) (document.CertificateInfo, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != "CERTIFICATE" {
		return document.CertificateInfo{}, fmt.Errorf("%w: certificate is not a PEM certificate block", ErrAgentProtocol)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return document.CertificateInfo{}, fmt.Errorf("%w: parse certificate: %v", ErrAgentProtocol, err)
	}
	owner := cert.Subject.CommonName
	if owner == "" {
		owner = cert.Subject.String()
	}
	issuer := cert.Issuer.CommonName
	if issuer == "" {
		issuer = cert.Issuer.String()
	}
	return document.CertificateInfo{
		OwnerName:    owner,
		IssuerName:   issuer,
		SerialNumber: strings.ToUpper(cert.SerialNumber.Text(16)),
		ValidFrom:    cert.NotBefore.UTC().Format(dateLayout),
		ValidTo:      cert.NotAfter.UTC().Format(dateLayout),
	}, nil
}

func completeCertificate(c document.CertificateInfo) bool {
	return c.OwnerName != "" && c.IssuerName != "" && c.SerialNumber != "" && c.ValidFrom != "" && c.ValidTo != ""
}
