// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInit(t *testing.T) {
	t.Run("initializes in order and skips non initializers", func(t *testing.T) {
		j := &journal{}
		services := []Service{
			&fakeService{plainService: plainService{"rapl"}, journal: j},
			&plainService{"signal-handler"},
			&initOnly{plainService: plainService{"monitor"}, journal: j},
		}

		assert.NoError(t, Init(nil, services))
		assert.Equal(t, []string{"init:rapl", "init:monitor"}, j.list())
	})

	t.Run("failure shuts down initialized services in reverse", func(t *testing.T) {
		j := &journal{}
		initErr := errors.New("msr unavailable")
		services := []Service{
			&fakeService{plainService: plainService{"a"}, journal: j},
			&initOnly{plainService: plainService{"b"}, journal: j},
			&fakeService{plainService: plainService{"c"}, journal: j},
			&fakeService{plainService: plainService{"d"}, journal: j, initErr: initErr},
			&fakeService{plainService: plainService{"e"}, journal: j},
		}

		err := Init(nil, services)
		assert.ErrorIs(t, err, initErr)
		assert.ErrorContains(t, err, "service d")
		assert.Equal(t, []string{
			"init:a", "init:b", "init:c", "init:d",
			"shutdown:c", "shutdown:a",
		}, j.list())
	})

	t.Run("shutdown errors do not replace the init error", func(t *testing.T) {
		j := &journal{}
		initErr := errors.New("init error")
		shutdownErr := errors.New("shutdown error")
		services := []Service{
			&fakeService{plainService: plainService{"a"}, journal: j, shutdownErr: shutdownErr},
			&fakeService{plainService: plainService{"b"}, journal: j, initErr: initErr},
		}

		err := Init(nil, services)
		assert.ErrorIs(t, err, initErr)
		assert.NotErrorIs(t, err, shutdownErr)
		assert.Contains(t, j.list(), "shutdown:a")
	})

	t.Run("empty service list", func(t *testing.T) {
		assert.NoError(t, Init(nil, nil))
	})
}

func TestShutdown(t *testing.T) {
	j := &journal{}
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	services := []Service{
		&fakeService{plainService: plainService{"a"}, journal: j, shutdownErr: errA},
		&plainService{"b"},
		&fakeService{plainService: plainService{"c"}, journal: j, shutdownErr: errC},
		&fakeService{plainService: plainService{"d"}, journal: j},
	}

	err := Shutdown(nil, services)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)
	assert.Equal(t, []string{"shutdown:d", "shutdown:c", "shutdown:a"}, j.list())

	assert.NoError(t, Shutdown(nil, []Service{&plainService{"x"}}))
}
