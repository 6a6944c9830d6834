package azidentity

import (
	"context"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pkcs12"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// ClientCertificateCredentialOptions configures ClientCertificateCredential.
type ClientCertificateCredentialOptions struct {
	AuthorityHost string

	// SendCertificateChain includes the x5c header in the client
	// assertion, enabling subject name / issuer authentication.
	SendCertificateChain bool
}

// ClientCertificateCredential authenticates a service principal with a
// certificate. The token request carries a signed JWT assertion instead
// of a shared secret.
type ClientCertificateCredential struct {
	tenantID  string
	clientID  string
	host      string
	cert      *x509.Certificate
	key       *rsa.PrivateKey
	sendChain bool
	cache     tokenCache
}

// NewClientCertificateCredential creates a ClientCertificateCredential
// from certificate data in PEM or PKCS#12 (.pfx) format. password applies
// to PKCS#12 data only; pass "" for unencrypted PEM.
func NewClientCertificateCredential(tenantID, clientID string, certData []byte, password string, options *ClientCertificateCredentialOptions) (*ClientCertificateCredential, error) {
	if err := validTenantID(tenantID); err != nil {
		return nil, err
	}
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if options == nil {
		options = &ClientCertificateCredentialOptions{}
	}
	cert, key, err := parseCertificate(certData, password)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return &ClientCertificateCredential{
		tenantID:  tenantID,
		clientID:  clientID,
		host:      authorityHost(options.AuthorityHost),
		cert:      cert,
		key:       key,
		sendChain: options.SendCertificateChain,
	}, nil
}

// GetToken requests a token from AAD, reusing a cached token when one is
// still comfortably valid.
func (c *ClientCertificateCredential) GetToken(ctx context.Context, opts azcore.TokenRequestOptions) (azcore.AccessToken, error) {
	if tk, ok := c.cache.get(opts); ok {
		return tk, nil
	}
	tenant := c.tenantID
	if opts.TenantID != "" {
		tenant = opts.TenantID
	}
	endpoint := tokenEndpoint(c.host, tenant)
	assertion, err := c.signAssertion(endpoint)
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("failed to sign client assertion: %w", err)
	}
	conf := clientcredentials.Config{
		ClientID: c.clientID,
		TokenURL: endpoint,
		Scopes:   opts.Scopes,
		EndpointParams: url.Values{
			"client_assertion_type": []string{clientAssertionType},
			"client_assertion":      []string{assertion},
		},
		AuthStyle: oauth2.AuthStyleInParams,
	}
	tok, err := conf.Token(ctx)
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("ClientCertificateCredential authentication failed: %w", err)
	}
	tk := azcore.AccessToken{Token: tok.AccessToken, ExpiresOn: tok.Expiry}
	c.cache.put(opts, tk)
	logrus.WithFields(logrus.Fields{
		"credential": "ClientCertificateCredential",
		"scopes":     opts.Scopes,
	}).Debug("acquired access token")
	return tk, nil
}

// signAssertion mints the JWT AAD expects for certificate auth: signed
// with the certificate's key, identified by the x5t thumbprint header.
func (c *ClientCertificateCredential) signAssertion(audience string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{audience},
		Issuer:    c.clientID,
		Subject:   c.clientID,
		ID:        uuid.NewString(),
		NotBefore: jwt.NewNumericDate(now),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
	})
	thumbprint := sha1.Sum(c.cert.Raw)
	token.Header["x5t"] = base64.StdEncoding.EncodeToString(thumbprint[:])
	if c.sendChain {
		token.Header["x5c"] = []string{base64.StdEncoding.EncodeToString(c.cert.Raw)}
	}
	return token.SignedString(c.key)
}

// parseCertificate accepts PEM data holding a certificate and private key
// in any order, or DER-encoded PKCS#12 data.
func parseCertificate(certData []byte, password string) (*x509.Certificate, *rsa.PrivateKey, error) {
	var cert *x509.Certificate
	var key *rsa.PrivateKey
	rest := certData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, err
			}
			if cert == nil {
				cert = c
			}
		case "PRIVATE KEY":
			k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, err
			}
			rsaKey, ok := k.(*rsa.PrivateKey)
			if !ok {
				return nil, nil, fmt.Errorf("unsupported private key type %T", k)
			}
			key = rsaKey
		case "RSA PRIVATE KEY":
			k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, err
			}
			key = k
		}
	}
	if cert == nil && key == nil {
		// not PEM, try PKCS#12
		k, c, err := pkcs12.Decode(certData, password)
		if err != nil {
			return nil, nil, err
		}
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, nil, fmt.Errorf("unsupported private key type %T", k)
		}
		return c, rsaKey, nil
	}
	if cert == nil {
		return nil, nil, fmt.Errorf("no certificate found")
	}
	if key == nil {
		return nil, nil, fmt.Errorf("no private key found")
	}
	return cert, key, nil
}
