// Package logging builds the service-wide zap logger.
package logging

import "go.uber.org/zap"

// New returns a production logger, or a development logger when development
// is true.
func New(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
