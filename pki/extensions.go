package pki

import (
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// Extension OIDs.
var (
	oidBasicConstraints    = asn1.ObjectIdentifier{2, 5, 29, 19}
	oidAuthorityKeyID      = asn1.ObjectIdentifier{2, 5, 29, 35}
	oidSubjectKeyID        = asn1.ObjectIdentifier{2, 5, 29, 14}
	oidKeyUsage            = asn1.ObjectIdentifier{2, 5, 29, 15}
	oidCertificatePolicies = asn1.ObjectIdentifier{2, 5, 29, 32}

	// OIDAnyPolicy is the anyPolicy certificate policy identifier.
	OIDAnyPolicy = asn1.ObjectIdentifier{2, 5, 29, 32, 0}
)

// ExtensionArgs carries the inputs extension providers need: the issuing CA
// certificate and the requester's public key.
type ExtensionArgs struct {
	Issuer           *x509.Certificate
	SubjectPublicKey any
}

// ExtensionProvider appends one X.509v3 extension to the certificate
// template. Providers must not read or modify extensions appended by earlier
// providers.
type ExtensionProvider interface {
	Apply(template *x509.Certificate, args ExtensionArgs) error
}

// Pipeline is an ordered, append-only list of extension providers. Providers
// are applied left to right; the list order determines encoding order in the
// issued certificate. Any provider failure aborts the whole pipeline so no
// partially-extended certificate is ever signed.
type Pipeline struct {
	providers []ExtensionProvider
}

// NewPipeline builds a pipeline from the given providers.
func NewPipeline(providers ...ExtensionProvider) *Pipeline {
	return &Pipeline{providers: providers}
}

// DefaultPipeline returns the standard provider set in its fixed order:
// basic-constraints, authority-key-identifier, subject-key-identifier,
// key-usage, certificate-policies.
func DefaultPipeline() *Pipeline {
	return NewPipeline(
		BasicConstraints{},
		AuthorityKeyIdentifier{},
		SubjectKeyIdentifier{},
		KeyUsage{},
		CertificatePolicies{},
	)
}

// Append adds a provider to the end of the pipeline.
func (p *Pipeline) Append(provider ExtensionProvider) {
	p.providers = append(p.providers, provider)
}

// Apply folds every provider over the template in order.
func (p *Pipeline) Apply(template *x509.Certificate, args ExtensionArgs) error {
	for _, provider := range p.providers {
		if err := provider.Apply(template, args); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Standard providers
// ---------------------------------------------------------------------------

// BasicConstraints marks the certificate CA:true, critical.
type BasicConstraints struct{}

var _ ExtensionProvider = BasicConstraints{}

type basicConstraints struct {
	IsCA bool `asn1:"optional"`
}

func (BasicConstraints) Apply(template *x509.Certificate, _ ExtensionArgs) error {
	value, err := asn1.Marshal(basicConstraints{IsCA: true})
	if err != nil {
		return fmt.Errorf("encoding basic constraints: %w", err)
	}
	template.ExtraExtensions = append(template.ExtraExtensions, pkix.Extension{
		Id:       oidBasicConstraints,
		Critical: true,
		Value:    value,
	})
	return nil
}

// AuthorityKeyIdentifier embeds the SHA-1 digest of the issuer's public key
// together with the issuer's name and serial number, non-critical.
type AuthorityKeyIdentifier struct{}

var _ ExtensionProvider = AuthorityKeyIdentifier{}

type authorityKeyID struct {
	KeyID  []byte `asn1:"tag:0"`
	Issuer asn1.RawValue
	Serial *big.Int `asn1:"tag:2"`
}

func (AuthorityKeyIdentifier) Apply(template *x509.Certificate, args ExtensionArgs) error {
	if args.Issuer == nil {
		return fmt.Errorf("authority key identifier: issuer certificate is required")
	}
	digest, err := publicKeyDigest(args.Issuer.PublicKey)
	if err != nil {
		return fmt.Errorf("digesting issuer public key: %w", err)
	}

	// GeneralNames ::= [1] { directoryName [4] EXPLICIT Name }
	generalName, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        4,
		IsCompound: true,
		Bytes:      args.Issuer.RawSubject,
	})
	if err != nil {
		return fmt.Errorf("encoding issuer general name: %w", err)
	}

	value, err := asn1.Marshal(authorityKeyID{
		KeyID: digest,
		Issuer: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        1,
			IsCompound: true,
			Bytes:      generalName,
		},
		Serial: args.Issuer.SerialNumber,
	})
	if err != nil {
		return fmt.Errorf("encoding authority key identifier: %w", err)
	}

	template.ExtraExtensions = append(template.ExtraExtensions, pkix.Extension{
		Id:    oidAuthorityKeyID,
		Value: value,
	})
	return nil
}

// SubjectKeyIdentifier embeds the SHA-1 digest of the subject's own public
// key, non-critical.
type SubjectKeyIdentifier struct{}

var _ ExtensionProvider = SubjectKeyIdentifier{}

func (SubjectKeyIdentifier) Apply(template *x509.Certificate, args ExtensionArgs) error {
	digest, err := publicKeyDigest(args.SubjectPublicKey)
	if err != nil {
		return fmt.Errorf("digesting subject public key: %w", err)
	}
	value, err := asn1.Marshal(digest)
	if err != nil {
		return fmt.Errorf("encoding subject key identifier: %w", err)
	}
	template.ExtraExtensions = append(template.ExtraExtensions, pkix.Extension{
		Id:    oidSubjectKeyID,
		Value: value,
	})
	return nil
}

// KeyUsage encodes the key-usage bit string, critical per RFC 5280. A zero
// Usage defaults to digitalSignature | keyEncipherment.
type KeyUsage struct {
	Usage x509.KeyUsage
}

var _ ExtensionProvider = KeyUsage{}

func (k KeyUsage) Apply(template *x509.Certificate, _ ExtensionArgs) error {
	usage := k.Usage
	if usage == 0 {
		usage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	}

	var buf [2]byte
	buf[0] = reverseBits(byte(usage))
	buf[1] = reverseBits(byte(usage >> 8))
	width := 1
	if buf[1] != 0 {
		width = 2
	}
	bits := buf[:width]

	value, err := asn1.Marshal(asn1.BitString{Bytes: bits, BitLength: bitStringLength(bits)})
	if err != nil {
		return fmt.Errorf("encoding key usage: %w", err)
	}
	template.ExtraExtensions = append(template.ExtraExtensions, pkix.Extension{
		Id:       oidKeyUsage,
		Critical: true,
		Value:    value,
	})
	return nil
}

// CertificatePolicies lists the policy OIDs the certificate is issued under,
// non-critical. Empty Policies defaults to anyPolicy.
type CertificatePolicies struct {
	Policies []asn1.ObjectIdentifier
}

var _ ExtensionProvider = CertificatePolicies{}

type policyInformation struct {
	Policy asn1.ObjectIdentifier
}

func (c CertificatePolicies) Apply(template *x509.Certificate, _ ExtensionArgs) error {
	policies := c.Policies
	if len(policies) == 0 {
		policies = []asn1.ObjectIdentifier{OIDAnyPolicy}
	}
	infos := make([]policyInformation, 0, len(policies))
	for _, policy := range policies {
		infos = append(infos, policyInformation{Policy: policy})
	}
	value, err := asn1.Marshal(infos)
	if err != nil {
		return fmt.Errorf("encoding certificate policies: %w", err)
	}
	template.ExtraExtensions = append(template.ExtraExtensions, pkix.Extension{
		Id:    oidCertificatePolicies,
		Value: value,
	})
	return nil
}

// ---------------------------------------------------------------------------
// Encoding helpers
// ---------------------------------------------------------------------------

type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// publicKeyDigest returns the SHA-1 digest of the raw subjectPublicKey BIT
// STRING, the conventional key-identifier derivation from RFC 5280 §4.2.1.2.
func publicKeyDigest(pub any) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, fmt.Errorf("unmarshaling SPKI: %w", err)
	}
	sum := sha1.Sum(spki.PublicKey.Bytes)
	return sum[:], nil
}

// reverseBits maps the x509.KeyUsage bit order onto the DER BIT STRING bit
// order, where bit zero is the most significant.
func reverseBits(b byte) byte {
	var out byte
	for i := 0; i < 8; i++ {
		out <<= 1
		out |= b & 1
		b >>= 1
	}
	return out
}

// bitStringLength returns the bit length with trailing zero bits trimmed.
func bitStringLength(bits []byte) int {
	length := len(bits) * 8
	for length > 0 {
		i := (length - 1) / 8
		bit := 7 - uint((length-1)%8)
		if bits[i]&(1<<bit) != 0 {
			break
		}
		length--
	}
	return length
}
