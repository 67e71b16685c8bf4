package service

import (
	"strconv"
	"time"
)

// TimeService and MulService are illustrative generic services, grounded
// on original_source/http/server/services.py's TimeService/MulService:
// they demonstrate the phase-hook contract independent of the RAID
// domain, and are the vehicle for this package's own unit tests (keeping
// RAID-specific tests in blockdevice/frontend).

// TimeService responds with the current time, registered at "/clock".
type TimeService struct {
	BaseService
	body []byte
	sent bool
}

func NewTimeService() Factory {
	return func(*Entry) Service { return &TimeService{} }
}

func (t *TimeService) BeforeResponseStatus(e *Entry) bool {
	t.body = []byte(time.Now().UTC().Format(time.RFC3339))
	e.SetStatus(200, "")
	return true
}

func (t *TimeService) BeforeResponseHeaders(e *Entry) bool {
	e.ResponseHeaders["Content-Length"] = strconv.Itoa(len(t.body))
	e.ResponseHeaders["Content-Type"] = "text/plain"
	return true
}

func (t *TimeService) BeforeResponseContent(e *Entry, _ int) bool {
	if t.sent {
		return true
	}
	e.ResponseBody = append(e.ResponseBody, t.body...)
	t.sent = true
	return true
}

// MulService multiplies two query arguments, registered at "/mul".
type MulService struct {
	BaseService
	body []byte
	sent bool
}

func NewMulService() Factory {
	return func(*Entry) Service { return &MulService{} }
}

func (m *MulService) WantedArgs() []string { return []string{"a", "b"} }

func (m *MulService) BeforeResponseStatus(e *Entry) bool {
	a, _ := e.Arg("a")
	b, _ := e.Arg("b")
	av, aerr := strconv.Atoi(a)
	bv, berr := strconv.Atoi(b)
	if aerr != nil || berr != nil {
		e.SetStatus(400, "a and b must be integers")
		return true
	}
	m.body = []byte(strconv.Itoa(av * bv))
	e.SetStatus(200, "")
	return true
}

func (m *MulService) BeforeResponseHeaders(e *Entry) bool {
	e.ResponseHeaders["Content-Length"] = strconv.Itoa(len(m.body))
	return true
}

func (m *MulService) BeforeResponseContent(e *Entry, _ int) bool {
	if m.sent {
		return true
	}
	e.ResponseBody = append(e.ResponseBody, m.body...)
	m.sent = true
	return true
}
