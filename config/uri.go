package config

import (
	"fmt"
	"net/url"
	"strings"
)

// MirrorFromURI builds an enabled S3Config from a location URI.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name[/prefix][?region=us-west-2&endpoint=https://s3.example.com]
func MirrorFromURI(uri string) (S3Config, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return S3Config{}, fmt.Errorf("invalid mirror URI: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "s3") {
		return S3Config{}, fmt.Errorf("unsupported mirror scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return S3Config{}, fmt.Errorf("missing bucket name in mirror URI")
	}

	query := u.Query()
	cfg := S3Config{
		Enabled:     true,
		BucketName:  u.Host,
		Prefix:      strings.Trim(u.Path, "/"),
		EndpointURL: query.Get("endpoint"),
		Region:      query.Get("region"),
	}
	if cfg.Region == "" {
		cfg.Region = DefaultS3Region
	}

	// Credentials embedded in the URI, if any
	if u.User != nil {
		cfg.AccessKey = u.User.Username()
		cfg.SecretKey, _ = u.User.Password()
	}

	return cfg, nil
}

// Redacted returns the URI form of the mirror location with the secret removed.
func (c S3Config) Redacted() string {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", c.BucketName, c.Prefix, c.Region)
	if c.AccessKey != "" {
		uri = fmt.Sprintf("s3://%s:***@%s/%s?region=%s", c.AccessKey, c.BucketName, c.Prefix, c.Region)
	}
	if c.EndpointURL != "" {
		uri += "&endpoint=" + c.EndpointURL
	}
	return uri
}
