package setup

import (
	"fmt"

	"github.com/The127/ioc"
	"github.com/the127/upyard/internal/config"
	"github.com/the127/upyard/internal/middlewares/authentication"
)

func Auth(dc *ioc.DependencyCollection, c config.AuthConfig) {
	authenticator, err := authentication.NewAuthenticator(c)
	if err != nil {
		panic(fmt.Errorf("failed to create authenticator: %w", err))
	}

	ioc.RegisterSingleton(dc, func(_ *ioc.DependencyProvider) authentication.Authenticator {
		return authenticator
	})
}
