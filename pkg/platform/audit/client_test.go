package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ClientLabelSuite struct {
	suite.Suite
}

func TestClientLabelSuite(t *testing.T) {
	suite.Run(t, new(ClientLabelSuite))
}

func (s *ClientLabelSuite) TestLabels() {
	s.Run("empty user agent returns unknown device", func() {
		s.Equal("Unknown Device", ClientLabel(""))
		s.Equal("Unknown Device", ClientLabel("   "))
	})

	s.Run("chrome on desktop includes browser and OS", func() {
		label := ClientLabel("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		s.Contains(label, "Chrome")
		s.Contains(label, " on ")
		s.NotContains(label, "  ")
	})

	s.Run("safari on iphone includes platform", func() {
		label := ClientLabel("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
		s.Contains(label, " on ")
		s.Contains(label, "iPhone")
	})

	s.Run("firefox on linux includes browser and OS", func() {
		label := ClientLabel("Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
		s.Contains(label, "Firefox")
		s.Contains(label, "Linux")
	})

	s.Run("result is trimmed", func() {
		label := ClientLabel("curl/8.4.0")
		s.NotEmpty(label)
		s.Equal(label, strings.TrimSpace(label))
	})
}
