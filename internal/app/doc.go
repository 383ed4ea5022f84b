// Package app builds the service components from configuration. It is
// shared by the commands under cmd/.
package app
