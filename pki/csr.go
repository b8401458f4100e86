package pki

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"strings"
)

// oidEmailAddress is the PKCS#9 emailAddress attribute carried in subject
// distinguished names.
var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// ParseCSR decodes a PEM certificate signing request and verifies its
// self-signature, proving the requester holds the corresponding private key.
// The input is untrusted; nothing about the claimed subject is validated
// here. Subject validation is the constraint chain's job.
func ParseCSR(csrPEM []byte) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, fmt.Errorf("CSR: %w", ErrInvalidPEM)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing CSR: %w: %v", ErrInvalidPEM, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("CSR signature invalid: %w", err)
	}
	return csr, nil
}

// SubjectEmail extracts the email address claimed by a subject name,
// preferring the DN emailAddress attribute and falling back to the first
// SAN email address.
func SubjectEmail(subject pkix.Name, sanEmails []string) string {
	for _, attr := range subject.Names {
		if attr.Type.Equal(oidEmailAddress) {
			if s, ok := attr.Value.(string); ok {
				return s
			}
		}
	}
	if len(sanEmails) > 0 {
		return sanEmails[0]
	}
	return ""
}

// subjectOrganization returns the first organization attribute, or "".
func subjectOrganization(name pkix.Name) string {
	if len(name.Organization) == 0 {
		return ""
	}
	return name.Organization[0]
}

// SubjectString formats a pkix.Name as a readable DN string.
func SubjectString(name pkix.Name) string {
	var parts []string
	if name.CommonName != "" {
		parts = append(parts, "CN="+name.CommonName)
	}
	for _, ou := range name.OrganizationalUnit {
		parts = append(parts, "OU="+ou)
	}
	for _, o := range name.Organization {
		parts = append(parts, "O="+o)
	}
	for _, l := range name.Locality {
		parts = append(parts, "L="+l)
	}
	for _, p := range name.Province {
		parts = append(parts, "ST="+p)
	}
	for _, c := range name.Country {
		parts = append(parts, "C="+c)
	}
	if email := SubjectEmail(name, nil); email != "" {
		parts = append(parts, "E="+email)
	}
	return strings.Join(parts, ", ")
}
