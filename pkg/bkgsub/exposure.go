package bkgsub

// SubarrayBounds is the 1-indexed placement of a subarray readout on the
// full detector grid, as recorded in exposure metadata.
type SubarrayBounds struct {
	XStart int
	YStart int
	XSize  int
	YSize  int
}

// Metadata carries the exposure header fields the background estimator
// needs. Subarray is nil when the placement keywords are absent.
type Metadata struct {
	Filename      string
	Instrument    string
	Subarray      *SubarrayBounds
	SourceCatalog string
}

// Exposure is an in-memory detector exposure: a data cube, a matching error
// cube, a matching data-quality bitmask cube, and header metadata. NDim is 2
// for single-frame exposures and 3 for stacks of integrations; in both cases
// the arrays are held as cubes (N() == 1 for 2D).
type Exposure struct {
	Data *Cube
	Err  *Cube
	DQ   *DQCube
	NDim int
	Meta Metadata
}

// Copy returns a deep copy of the exposure.
func (e *Exposure) Copy() *Exposure {
	out := &Exposure{
		Data: e.Data.Clone(),
		Err:  e.Err.Clone(),
		DQ:   e.DQ.Clone(),
		NDim: e.NDim,
		Meta: e.Meta,
	}
	if e.Meta.Subarray != nil {
		sub := *e.Meta.Subarray
		out.Meta.Subarray = &sub
	}
	return out
}

// Close releases the pixel arrays. The exposure must not be used afterwards.
func (e *Exposure) Close() {
	e.Data = nil
	e.Err = nil
	e.DQ = nil
}

// Opener resolves a background source name into an exposure. The FITS layer
// implements it for files on disk; tests supply in-memory fakes.
type Opener interface {
	Open(source string) (*Exposure, error)
}
