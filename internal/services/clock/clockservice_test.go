package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ClockServiceTestSuite struct {
	suite.Suite
}

func TestClockServiceTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(ClockServiceTestSuite))
}

func (s *ClockServiceTestSuite) TestMockReturnsConfiguredTime() {
	// arrange
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	service, _ := NewMockService(start)

	// act
	actual := service.Now()

	// assert
	s.Equal(start, actual)
}

func (s *ClockServiceTestSuite) TestMockSetterMovesTime() {
	// arrange
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	service, setNow := NewMockService(start)

	// act
	setNow(start.Add(time.Hour))

	// assert
	s.Equal(start.Add(time.Hour), service.Now())
}
