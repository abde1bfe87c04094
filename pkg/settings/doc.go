// Package settings loads the cellxform tool configuration with viper.
//
// Values come, in increasing order of precedence, from the built-in
// defaults, a cellxform.yaml or cellxform.toml file and CELLXFORM_*
// environment variables. Nested keys join with underscores, so
// store.path is CELLXFORM_STORE_PATH and policy.dirs is
// CELLXFORM_POLICY_DIRS (comma separated). CELLXFORM_LOG_LEVEL is an alias
// for CELLXFORM_TELEMETRY_LOGGING_LEVEL.
//
//	telemetry:
//	  logging:
//	    level: debug
//	    format: json
//	store:
//	  path: /var/lib/cellxform/history.db
//	policy:
//	  dirs: [./policies]
//	units:
//	  strict: true
package settings
