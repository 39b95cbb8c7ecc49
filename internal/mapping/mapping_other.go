//go:build !linux

package mapping

import "pinctl/internal/gpioerr"

func OpenGPIOMem() (*Region, error) { return nil, gpioerr.ErrUnsupported }

func OpenFile(path string) (*Region, error) { return nil, gpioerr.ErrUnsupported }

func OpenPhysical(base uint64) (*Region, error) { return nil, gpioerr.ErrUnsupported }
