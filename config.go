package cachemanager

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/goforj/cachemanager/cachecore"
)

// LoadTemplates decodes a YAML document mapping cache names to templates:
//
//	page:
//	  backend:
//	    options:
//	      public_dir: /var/www/public
//	blackhole:
//	  frontend:
//	    name: Core
//	    options:
//	      lifetime: 7200
//	  backend:
//	    name: BlackHole
//
// An empty document yields an empty map.
func LoadTemplates(r io.Reader) (map[string]Template, error) {
	var raw map[string]Template
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]Template{}, nil
		}
		return nil, &cachecore.ConfigError{Component: "template file", Err: err}
	}
	if raw == nil {
		raw = map[string]Template{}
	}
	return raw, nil
}

// LoadTemplatesFile reads templates from a YAML file.
func LoadTemplatesFile(path string) (map[string]Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template file: %w", err)
	}
	defer f.Close()
	return LoadTemplates(f)
}
