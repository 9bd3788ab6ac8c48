package storage

import (
	"net/url"
	"strings"

	"github.com/roach88/ripple/internal/fault"
)

// FromURL constructs a Backend from a storage URL:
//
//	s3://<access>:<secret>@<endpoint>/<bucket>/<prefix>?region=<r>
//	file://<path>
//	memory://<name>
//
// An s3 endpoint of "s3.amazonaws.com" selects the default AWS endpoint.
func FromURL(raw string) (Backend, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fault.Wrap(fault.Config, err, "parse storage url %q", raw)
	}

	switch u.Scheme {
	case "s3":
		return s3FromURL(u)
	case "file":
		path := u.Host + u.Path
		if path == "" {
			return nil, fault.New(fault.Config, "file url %q has no path", raw)
		}
		return NewFS(path)
	case "memory":
		name := u.Host
		if name == "" {
			return nil, fault.New(fault.Config, "memory url %q has no name", raw)
		}
		return NamedMemory(name), nil
	default:
		return nil, fault.New(fault.Config, "unsupported storage scheme %q", u.Scheme)
	}
}

func s3FromURL(u *url.URL) (Backend, error) {
	if u.User == nil {
		return nil, fault.New(fault.Config, "s3 url requires access:secret credentials")
	}
	secret, hasSecret := u.User.Password()
	if !hasSecret {
		return nil, fault.New(fault.Config, "s3 url requires access:secret credentials")
	}

	bucket, prefix, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	endpoint := u.Host
	if endpoint == "s3.amazonaws.com" {
		endpoint = ""
	}

	return NewS3(S3Config{
		Endpoint:  endpoint,
		Region:    u.Query().Get("region"),
		Bucket:    bucket,
		Prefix:    prefix,
		AccessKey: u.User.Username(),
		SecretKey: secret,
	})
}
