package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, target string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	c := e.NewContext(req, httptest.NewRecorder())
	return FromContext(c)
}

func TestFromContextDefaults(t *testing.T) {
	p := paramsFor(t, "/api/v1/patients")
	if p.Limit != DefaultLimit {
		t.Errorf("limit = %d, want default %d", p.Limit, DefaultLimit)
	}
	if p.Offset != 0 {
		t.Errorf("offset = %d, want 0", p.Offset)
	}
}

func TestFromContextQueryParams(t *testing.T) {
	p := paramsFor(t, "/api/v1/candidates?limit=50&offset=10")
	if p.Limit != 50 {
		t.Errorf("limit = %d, want 50", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("offset = %d, want 10", p.Offset)
	}
}

func TestFromContextClampsLimit(t *testing.T) {
	p := paramsFor(t, "/api/v1/patients?limit=500")
	if p.Limit != MaxLimit {
		t.Errorf("limit = %d, want cap %d", p.Limit, MaxLimit)
	}
}

func TestFromContextRejectsBadValues(t *testing.T) {
	p := paramsFor(t, "/api/v1/patients?limit=abc&offset=-5")
	if p.Limit != DefaultLimit {
		t.Errorf("limit = %d, want default %d", p.Limit, DefaultLimit)
	}
	if p.Offset != 0 {
		t.Errorf("offset = %d, want 0", p.Offset)
	}
}

func TestSQL(t *testing.T) {
	p := Params{Limit: 20, Offset: 40}
	if got := p.SQL(); got != "LIMIT 20 OFFSET 40" {
		t.Errorf("SQL() = %q", got)
	}
}

func TestNewResponse(t *testing.T) {
	data := []string{"a", "b", "c"}

	r := NewResponse(data, 10, 3, 0)
	if r.Total != 10 || r.Limit != 3 || r.Offset != 0 {
		t.Errorf("unexpected response %+v", r)
	}
	if !r.HasMore {
		t.Error("expected has_more when offset+limit < total")
	}

	last := NewResponse(data, 3, 3, 0)
	if last.HasMore {
		t.Error("expected has_more false on the final page")
	}
}

func TestHasNext(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		total  int
		want   bool
	}{
		{"more results", Params{Limit: 10, Offset: 0}, 25, true},
		{"exact end", Params{Limit: 10, Offset: 15}, 25, false},
		{"past end", Params{Limit: 10, Offset: 30}, 25, false},
		{"no results", Params{Limit: 10, Offset: 0}, 0, false},
		{"last partial page", Params{Limit: 10, Offset: 20}, 25, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.HasNext(tt.total); got != tt.want {
				t.Errorf("HasNext(%d) = %v, want %v", tt.total, got, tt.want)
			}
		})
	}
}

func TestNextOffset(t *testing.T) {
	p := Params{Limit: 10, Offset: 5}
	if got := p.NextOffset(); got != 15 {
		t.Errorf("NextOffset() = %d, want 15", got)
	}
}
