// Copyright (c) 2018-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package account

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/gobby/infinoted/direrr"
)

// CertAuthority signs certificate-signing requests submitted via
// create-acl-account into leaf certificates, using the daemon's
// configured signing keypair. The issued certificate carries the
// account's distinguished name, so LoginByCertificate can walk it
// back to the account on a later connection.
type CertAuthority struct {
	cert *x509.Certificate
	key  interface{}
}

// LoadCertAuthority reads a PEM keypair (certificate + private key,
// in whatever combination crypto/tls.LoadX509KeyPair accepts) and
// returns a CertAuthority able to sign CSRs with it.
func LoadCertAuthority(certFile, keyFile string) (*CertAuthority, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	leaf := pair.Leaf
	if leaf == nil {
		leaf, err = x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return nil, err
		}
	}
	return &CertAuthority{cert: leaf, key: pair.PrivateKey}, nil
}

// Sign issues a leaf certificate for csr, signed by the authority's
// keypair, valid for one year from now. The returned bytes are a
// PEM-encoded certificate suitable for the <certificate> element of
// create-acl-account's reply.
func (ca *CertAuthority) Sign(csr *x509.CertificateRequest) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, direrr.NewInvalidCertificate(err.Error())
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: csr.Subject.CommonName,
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, csr.PublicKey, ca.key)
	if err != nil {
		return nil, direrr.NewInvalidCertificate(err.Error())
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}
