package config

import "github.com/AmirTlinov/compas/pkg/hashutil"

func configHash(checks ChecksConfig) (string, error) {
	return hashutil.CanonicalHash(checks)
}
