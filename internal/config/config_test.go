package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) SetupTest() {
	C = Config{}
}

func (s *ConfigTestSuite) TestDefaultsInDevelopment() {
	// arrange

	// act
	setDefaultsOrPanic()

	// assert
	s.Equal("localhost:8080", C.Server.BindAddress)
	s.Equal("http://localhost:8080", C.Server.ExternalUrl)
	s.Equal(int64(10*1024*1024*1024), C.Storage.CapacityCeilingBytes)
	s.Equal(int64(16*1024*1024), C.Upload.DefaultChunkSizeBytes)
	s.Equal(15*time.Minute, C.Upload.SessionIdleTimeout)
	s.Equal(AuthModeNone, C.Auth.Mode)
	s.Equal(CatalogModeInMemory, C.Catalog.Mode)
	s.Equal(EventsModeInMemory, C.Events.Mode)
}

func (s *ConfigTestSuite) TestHumanSizesAreParsed() {
	// arrange
	C.Storage.CapacityCeiling = "200 MB"
	C.Upload.MinChunkSize = "1 KiB"
	C.Upload.DefaultChunkSize = "4 MiB"

	// act
	setDefaultsOrPanic()

	// assert
	s.Equal(int64(200_000_000), C.Storage.CapacityCeilingBytes)
	s.Equal(int64(1024), C.Upload.MinChunkSizeBytes)
	s.Equal(int64(4*1024*1024), C.Upload.DefaultChunkSizeBytes)
}

func (s *ConfigTestSuite) TestInvalidSizePanics() {
	// arrange
	C.Storage.CapacityCeiling = "lots"

	// act & assert
	s.Panics(setDefaultsOrPanic)
}

func (s *ConfigTestSuite) TestDefaultChunkSizeOutsideBoundsPanics() {
	// arrange
	C.Upload.MaxChunkSize = "1 MiB"
	C.Upload.DefaultChunkSize = "2 MiB"

	// act & assert
	s.Panics(setDefaultsOrPanic)
}

func (s *ConfigTestSuite) TestStaticAuthWithoutTokensPanics() {
	// arrange
	C.Auth.Mode = AuthModeStatic

	// act & assert
	s.Panics(setDefaultsOrPanic)
}

func (s *ConfigTestSuite) TestUnsupportedDigestAlgorithmPanics() {
	// arrange
	C.Upload.DigestAlgorithm = "md5"

	// act & assert
	s.Panics(setDefaultsOrPanic)
}

func (s *ConfigTestSuite) TestRedisEventsDefaults() {
	// arrange
	C.Events.Mode = EventsModeRedis

	// act
	setDefaultsOrPanic()

	// assert
	s.Equal("localhost", C.Events.Redis.Host)
	s.Equal(6379, C.Events.Redis.Port)
	s.Equal("upyard:events", C.Events.Redis.Channel)
}
