package phout

import (
	"bytes"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/steve-o/hitsuji/omm"
)

// Not parallel: the tests swap the package clock.
func TestPhout(t *testing.T) {
	a := assert.New(t)

	b := new(bytes.Buffer)
	r := New(b)
	errChan := make(chan error)
	go func() {
		errChan <- r.Run()
	}()

	var expected string
	line := func(start, end time.Time, rest string) string {
		return fmt.Sprintf("%d.%d\t%s\n",
			start.UnixMilli()/1e3, start.UnixMilli()%1e3,
			fmt.Sprintf(rest, end.Sub(start).Microseconds()),
		)
	}

	tests := []struct {
		tag  string
		run  func(st *snapshotState)
		want string
	}{
		{"tag1", func(st *snapshotState) {
			st.SetSize(31)
			st.OnReply(&omm.Msg{Class: omm.ClassRefresh})
		}, "tag1\t%d\t0\t0\t0\t0\t0\t31\t0\t0\trefresh"},
		{"tag2", func(st *snapshotState) {
			st.SetSize(22)
			st.OnReply(&omm.Msg{Class: omm.ClassStatus, Code: omm.CodeNotFound})
		}, "tag2\t%d\t0\t0\t0\t0\t0\t22\t0\t0\tstatus_1"},
		{"tag2", func(st *snapshotState) {
			st.SetSize(22)
			st.IoError(fmt.Errorf("read error: %w", syscall.Errno(104)))
		}, "tag2\t%d\t0\t0\t0\t0\t0\t22\t0\t104\tnone"},
		{"", func(st *snapshotState) {
			st.IoError(errors.New("unknown error"))
		}, "\t%d\t0\t0\t0\t0\t0\t0\t0\t999\tnone"},
		{"", func(st *snapshotState) {
			st.Timeout()
		}, "\t%d\t0\t0\t0\t0\t0\t0\t0\t0\ttimeout"},
	}
	for _, tc := range tests {
		startTime := time.Now()
		now = func() time.Time { return startTime }
		st := r.Acquire(tc.tag).(*snapshotState)
		tc.run(st)

		endTime := startTime.Add(1500 * time.Microsecond)
		now = func() time.Time { return endTime }
		st.End()
		expected += line(startTime, endTime, tc.want)
	}

	a.NoError(r.Close())
	a.NoError(<-errChan)
	a.Equal(expected, b.String())
}
