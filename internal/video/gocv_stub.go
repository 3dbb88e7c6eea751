//go:build !gocv

package video

func newGoCVBackend(float64) (Backend, error) {
	return nil, ErrBackendUnavailable
}
