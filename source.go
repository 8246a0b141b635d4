package aqmsim

// source.go resolves the packet source of an experiment into the finite,
// ordered list of (id, size) pairs the producer works through.  Everything is
// read and checked before a run starts, so a bad source never surfaces mid-run.

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/iti/rngstream"
	"gopkg.in/yaml.v3"
)

// PacketSpec is one entry of a packet source
type PacketSpec struct {
	ID   int    `json:"id" yaml:"id"`
	Size int    `json:"size" yaml:"size"`
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
}

// PacketList is the YAML/JSON form of a packet source
type PacketList struct {
	Packets []PacketSpec `json:"packets" yaml:"packets"`
}

// HostType is one kind of traffic in the synthetic mix
type HostType int

const (
	FTPHost HostType = iota
	WEBHost
	VIDEOHost
)

var hostTypeToStr map[HostType]string = map[HostType]string{FTPHost: "FTP", WEBHost: "WEB", VIDEOHost: "VIDEO"}

func (ht HostType) String() string {
	return hostTypeToStr[ht]
}

// packet size range, in bytes, of each host type
var hostSizeRange map[HostType][2]int = map[HostType][2]int{
	FTPHost:   {500, 1500},
	WEBHost:   {100, 1000},
	VIDEOHost: {1000, 5000},
}

// column names of the packet dataset format
const (
	csvIDColumn   = "packet_id"
	csvSizeColumn = "data_length"
)

// LoadSource produces the packet sequence a SourceDesc names.  Files ending in
// .csv, .yaml/.yml and .json are understood; any problem reading or checking
// the source is returned as a ConfigError
func LoadSource(sd SourceDesc) ([]PacketSpec, error) {
	var specs []PacketSpec
	var err error

	switch {
	case len(sd.Path) > 0 && sd.Synthetic != nil:
		return nil, configErrorf("source names both a path and a synthetic mix")
	case sd.Synthetic != nil:
		if sd.Synthetic.Count <= 0 {
			return nil, configErrorf("synthetic source count must be positive, got %d", sd.Synthetic.Count)
		}
		specs = syntheticMix(sd.Synthetic.Count, rngstream.New("source"))
	case strings.HasSuffix(strings.ToLower(sd.Path), ".csv"):
		specs, err = readPacketCSV(sd.Path)
	case isYAMLFile(sd.Path) || isJSONFile(sd.Path):
		specs, err = readPacketList(sd.Path)
	case len(sd.Path) == 0:
		return nil, configErrorf("source names neither a path nor a synthetic mix")
	default:
		return nil, configErrorf("packet source %s: unrecognized file type, use .csv, .yaml or .json", sd.Path)
	}
	if err != nil {
		return nil, err
	}
	if err = checkSpecs(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// readPacketCSV reads a file with a header row naming packet_id and data_length.
// Other columns are ignored
func readPacketCSV(filename string) ([]PacketSpec, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, configErrorf("packet source: %v", err)
	}
	defer f.Close()

	rdr := csv.NewReader(f)
	rdr.FieldsPerRecord = -1
	rdr.TrimLeadingSpace = true

	header, err := rdr.Read()
	if err != nil {
		return nil, configErrorf("packet source %s: reading header: %v", filename, err)
	}
	idCol, sizeCol := -1, -1
	for idx, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case csvIDColumn:
			idCol = idx
		case csvSizeColumn:
			sizeCol = idx
		}
	}
	if idCol < 0 || sizeCol < 0 {
		return nil, configErrorf("packet source %s: header must name %s and %s", filename, csvIDColumn, csvSizeColumn)
	}

	specs := make([]PacketSpec, 0)
	errs := []error{}
	for {
		record, rerr := rdr.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, configErrorf("packet source %s: %v", filename, rerr)
		}
		line, _ := rdr.FieldPos(0)
		if len(record) <= max(idCol, sizeCol) {
			errs = append(errs, configErrorf("packet source %s line %d: missing columns", filename, line))
			continue
		}
		id, ierr := parseCount(record[idCol])
		size, serr := parseCount(record[sizeCol])
		if ierr != nil || serr != nil {
			errs = append(errs, configErrorf("packet source %s line %d: %s,%s is not a pair of integers",
				filename, line, record[idCol], record[sizeCol]))
			continue
		}
		specs = append(specs, PacketSpec{ID: id, Size: size})
	}
	if err := ReportErrs(errs); err != nil {
		return nil, err
	}
	return specs, nil
}

// parseCount accepts integers, and floats with no fractional part as some datasets write them
func parseCount(field string) (int, error) {
	field = strings.TrimSpace(field)
	v, err := strconv.Atoi(field)
	if err == nil {
		return v, nil
	}
	fv, ferr := strconv.ParseFloat(field, 64)
	if ferr != nil || fv != math.Trunc(fv) || math.Abs(fv) > math.MaxInt32 {
		return 0, err
	}
	return int(fv), nil
}

// readPacketList reads a PacketList serialized as yaml or json
func readPacketList(filename string) ([]PacketSpec, error) {
	dict, err := os.ReadFile(filename)
	if err != nil {
		return nil, configErrorf("packet source: %v", err)
	}
	pl := PacketList{}
	if isYAMLFile(filename) {
		err = yaml.Unmarshal(dict, &pl)
	} else {
		err = json.Unmarshal(dict, &pl)
	}
	if err != nil {
		return nil, configErrorf("packet source %s: %v", filename, err)
	}
	return pl.Packets, nil
}

// WriteToFile stores the PacketList as json or yaml, chosen by the extension of filename
func (pl *PacketList) WriteToFile(filename string) error {
	return writeSerialized(filename, *pl)
}

// syntheticMix draws count packets for each host type, interleaving the types
// so every round offers one packet of each
func syntheticMix(count int, rngstrm *rngstream.RngStream) []PacketSpec {
	specs := make([]PacketSpec, 0, 3*count)
	id := 1
	for round := 0; round < count; round++ {
		for _, ht := range []HostType{FTPHost, WEBHost, VIDEOHost} {
			bounds := hostSizeRange[ht]
			span := bounds[1] - bounds[0] + 1
			size := bounds[0] + min(int(rngstrm.RandU01()*float64(span)), span-1)
			specs = append(specs, PacketSpec{ID: id, Size: size, Host: ht.String()})
			id += 1
		}
	}
	return specs
}

// checkSpecs rejects negative sizes and repeated identifiers
func checkSpecs(specs []PacketSpec) error {
	errs := []error{}
	seen := make(map[int]bool)
	for idx, spec := range specs {
		if spec.Size < 0 {
			errs = append(errs, configErrorf("packet %d (entry %d) has negative size %d", spec.ID, idx, spec.Size))
		}
		if seen[spec.ID] {
			errs = append(errs, configErrorf("packet id %d appears more than once", spec.ID))
		}
		seen[spec.ID] = true
	}
	if len(specs) == 0 {
		errs = append(errs, configErrorf("packet source holds no packets"))
	}
	return ReportErrs(errs)
}
