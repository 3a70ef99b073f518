// Package cachecore holds the contracts shared by cache frontends, backends
// and the cache manager: the Backend capability, cleaning modes, option maps
// and the error taxonomy.
//
// Custom backends living outside the root module implement Backend and embed
// Base for identity and logging:
//
//	type diskBackend struct {
//		cachecore.Base
//		dir string
//	}
//
//	func newDiskBackend(opts cachecore.Options) (cachecore.Backend, error) {
//		cfg := struct {
//			Dir string `option:"dir"`
//		}{Dir: "/var/cache/app"}
//		if err := cachecore.DecodeOptions(`backend "Disk"`, opts, &cfg); err != nil {
//			return nil, err
//		}
//		return &diskBackend{Base: cachecore.NewBase("Disk"), dir: cfg.Dir}, nil
//	}
package cachecore
