package decoding

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/the127/upyard/internal/utils/apiError"
)

type HttpBodyAsJsonTestSuite struct {
	suite.Suite
}

func TestHttpBodyAsJsonTestSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(HttpBodyAsJsonTestSuite))
}

type body struct {
	Name string `json:"name"`
}

func (s *HttpBodyAsJsonTestSuite) newRequest(contentType string, payload string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(payload))
	r.Header.Set("Content-Type", contentType)
	return r
}

func (s *HttpBodyAsJsonTestSuite) TestDecodes() {
	// arrange
	r := s.newRequest("application/json; charset=utf-8", `{"name":"a"}`)
	var v body

	// act
	err := HttpBodyAsJson(httptest.NewRecorder(), r, &v)

	// assert
	s.Require().NoError(err)
	s.Equal("a", v.Name)
}

func (s *HttpBodyAsJsonTestSuite) TestWrongContentType() {
	// arrange
	r := s.newRequest("text/plain", `{"name":"a"}`)
	var v body

	// act
	err := HttpBodyAsJson(httptest.NewRecorder(), r, &v)

	// assert
	s.ErrorIs(err, apiError.ErrApiUnsupportedMediaType)
}

func (s *HttpBodyAsJsonTestSuite) TestUnknownField() {
	// arrange
	r := s.newRequest("application/json", `{"name":"a","other":1}`)
	var v body

	// act
	err := HttpBodyAsJson(httptest.NewRecorder(), r, &v)

	// assert
	s.ErrorIs(err, apiError.ErrApiBadRequest)
}

func (s *HttpBodyAsJsonTestSuite) TestTrailingData() {
	// arrange
	r := s.newRequest("application/json", `{"name":"a"}{"name":"b"}`)
	var v body

	// act
	err := HttpBodyAsJson(httptest.NewRecorder(), r, &v)

	// assert
	s.ErrorIs(err, apiError.ErrApiBadRequest)
}
