// Package config provides configuration management for mediadl.
//
// This package handles:
//   - Loading settings through viper from a JSON file and MEDIADL_* environment variables
//   - Saving settings as indented JSON
//   - Default configuration values
//   - Conversion to the explicit option values of the other packages
//
// # Default Settings
//
// Use DefaultSettings() to get sensible defaults:
//
//	settings := config.DefaultSettings()
//	// Downloads to ~/Downloads/mediadl/{title}
//	// 10 MB ranges, first-range resume policy
//	// JSON ledger
//
// # Loading from File
//
//	settings, err := config.Load("/path/to/settings.json")
//	if err != nil {
//	    // Uses defaults if file doesn't exist
//	}
//
// Any key can be overridden from the environment by upper-casing it and
// adding the prefix:
//
//	MEDIADL_CHUNK_SIZE=20MB MEDIADL_LEDGER_BACKEND=bolt mediadl get <url>
//
// # Byte Sizes
//
// chunk_size and rate_limit accept plain byte counts as well as decimal
// ("10MB") and binary ("512KiB") units, see ParseBytes.
package config
