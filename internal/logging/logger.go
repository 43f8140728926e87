package logging

import "go.uber.org/zap"

// New builds the service logger: console output in development, JSON in
// anything else.
func New(appEnv string) *zap.Logger {
	if appEnv == "development" {
		l, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return l
	}
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}
