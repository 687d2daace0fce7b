// Package config loads the remoteauth configuration file.
//
// Configuration is read from a single YAML file, by default
// ~/.config/remoteauth/config.yaml. Defaults are applied first and the file
// overrides them; a missing file is not an error, malformed YAML is.
//
// # Example
//
//	storageDir: /var/lib/remoteauth
//	callback:
//	  host: 127.0.0.1
//	  port: 8765
//	  path: /callback
//	redirectTimeout: 2m
//	client:
//	  clientId: my-preregistered-client
//	clientMetadata:
//	  clientName: my-tool
//	  softwareVersion: 1.4.0
//	scopes: [read, write]
//	resource: https://mcp.example.com
//	autoAuthenticate: true
//	autoRefresh: true
//	watchStore: false
//	openBrowser: true
//
// Command line flags take precedence over file values.
package config
