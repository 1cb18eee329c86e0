package sensorapi

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// field numbers, pinned once so Marshal/Unmarshal agree on layout across
// every type in this package.
const (
	fieldComponentName    = 1
	fieldComponentVersion = 2
	fieldComponentArch    = 3

	fieldScanComponents = 1

	fieldVMID   = 1
	fieldVMName = 2
	fieldVMScan = 3

	fieldDistID         = 1
	fieldDistVersionID  = 2
	fieldDistArch       = 3
	fieldDistCPE        = 4
	fieldDistPrettyName = 5

	fieldContentsPackages      = 1
	fieldContentsDistributions = 2

	fieldIndexV4HashID   = 1
	fieldIndexV4Success  = 2
	fieldIndexV4Contents = 3

	fieldIndexReportVsockCID = 1
	fieldIndexReportIndexV4  = 2

	fieldFileEventTimestamp     = 1
	fieldFileEventPID           = 2
	fieldFileEventUID           = 3
	fieldFileEventGID           = 4
	fieldFileEventLoginUID      = 5
	fieldFileEventComm          = 6
	fieldFileEventArgv          = 7
	fieldFileEventExePath       = 8
	fieldFileEventCgroupPath    = 9
	fieldFileEventExternalMount = 10
	fieldFileEventFilename      = 11
	fieldFileEventHostPath      = 12
	fieldFileEventAncestors     = 13

	fieldFileEventAncestorUID = 1
	fieldFileEventAncestorExe = 2
)

// forEachField walks the top-level fields of a length-delimited protobuf
// message, calling fn once per (field number, wire type, raw bytes of the
// field's value). It is the shared decode loop every Unmarshal below uses.
func forEachField(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("sensorapi: invalid tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		var val []byte
		var consumed int
		switch typ {
		case protowire.VarintType:
			_, c := protowire.ConsumeVarint(data)
			if c < 0 {
				return fmt.Errorf("sensorapi: invalid varint field: %w", protowire.ParseError(c))
			}
			val, consumed = data[:c], c
		case protowire.BytesType:
			v, c := protowire.ConsumeBytes(data)
			if c < 0 {
				return fmt.Errorf("sensorapi: invalid length-delimited field: %w", protowire.ParseError(c))
			}
			val, consumed = v, c
		default:
			c := protowire.ConsumeFieldValue(num, typ, data)
			if c < 0 {
				return fmt.Errorf("sensorapi: invalid field value: %w", protowire.ParseError(c))
			}
			val, consumed = data[:c], c
		}
		if consumed < 0 {
			return fmt.Errorf("sensorapi: invalid field value")
		}

		if err := fn(num, typ, val); err != nil {
			return err
		}
		data = data[consumed:]
	}
	return nil
}

// Marshal encodes c using the field layout documented above.
func (c Component) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldComponentName, protowire.BytesType)
	b = protowire.AppendString(b, c.Name)
	b = protowire.AppendTag(b, fieldComponentVersion, protowire.BytesType)
	b = protowire.AppendString(b, c.Version)
	b = protowire.AppendTag(b, fieldComponentArch, protowire.BytesType)
	b = protowire.AppendString(b, c.Architecture)
	return b
}

// UnmarshalComponent decodes a Component from its wire bytes.
func UnmarshalComponent(data []byte) (Component, error) {
	var c Component
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldComponentName:
			c.Name = string(v)
		case fieldComponentVersion:
			c.Version = string(v)
		case fieldComponentArch:
			c.Architecture = string(v)
		}
		return nil
	})
	return c, err
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// Marshal encodes s.
func (s Scan) Marshal() []byte {
	var b []byte
	for _, c := range s.Components {
		b = appendMessage(b, fieldScanComponents, c.Marshal())
	}
	return b
}

// UnmarshalScan decodes a Scan from its wire bytes.
func UnmarshalScan(data []byte) (Scan, error) {
	var s Scan
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num == fieldScanComponents {
			c, err := UnmarshalComponent(v)
			if err != nil {
				return err
			}
			s.Components = append(s.Components, c)
		}
		return nil
	})
	return s, err
}

// Marshal encodes vm.
func (vm VirtualMachine) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVMID, protowire.BytesType)
	b = protowire.AppendString(b, vm.ID)
	b = protowire.AppendTag(b, fieldVMName, protowire.BytesType)
	b = protowire.AppendString(b, vm.Name)
	if vm.Scan != nil {
		b = appendMessage(b, fieldVMScan, vm.Scan.Marshal())
	}
	return b
}

// UnmarshalVirtualMachine decodes a VirtualMachine from its wire bytes.
func UnmarshalVirtualMachine(data []byte) (VirtualMachine, error) {
	var vm VirtualMachine
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldVMID:
			vm.ID = string(v)
		case fieldVMName:
			vm.Name = string(v)
		case fieldVMScan:
			s, err := UnmarshalScan(v)
			if err != nil {
				return err
			}
			vm.Scan = &s
		}
		return nil
	})
	return vm, err
}

// Marshal encodes d.
func (d Distribution) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDistID, protowire.BytesType)
	b = protowire.AppendString(b, d.ID)
	b = protowire.AppendTag(b, fieldDistVersionID, protowire.BytesType)
	b = protowire.AppendString(b, d.VersionID)
	b = protowire.AppendTag(b, fieldDistArch, protowire.BytesType)
	b = protowire.AppendString(b, d.Arch)
	b = protowire.AppendTag(b, fieldDistCPE, protowire.BytesType)
	b = protowire.AppendString(b, d.CPE)
	b = protowire.AppendTag(b, fieldDistPrettyName, protowire.BytesType)
	b = protowire.AppendString(b, d.PrettyName)
	return b
}

// UnmarshalDistribution decodes a Distribution from its wire bytes.
func UnmarshalDistribution(data []byte) (Distribution, error) {
	var d Distribution
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldDistID:
			d.ID = string(v)
		case fieldDistVersionID:
			d.VersionID = string(v)
		case fieldDistArch:
			d.Arch = string(v)
		case fieldDistCPE:
			d.CPE = string(v)
		case fieldDistPrettyName:
			d.PrettyName = string(v)
		}
		return nil
	})
	return d, err
}

// Marshal encodes c.
func (c Contents) Marshal() []byte {
	var b []byte
	for _, p := range c.Packages {
		b = appendMessage(b, fieldContentsPackages, p.Marshal())
	}
	for _, d := range c.Distributions {
		b = appendMessage(b, fieldContentsDistributions, d.Marshal())
	}
	return b
}

// UnmarshalContents decodes Contents from its wire bytes.
func UnmarshalContents(data []byte) (Contents, error) {
	var c Contents
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldContentsPackages:
			p, err := UnmarshalComponent(v)
			if err != nil {
				return err
			}
			c.Packages = append(c.Packages, p)
		case fieldContentsDistributions:
			d, err := UnmarshalDistribution(v)
			if err != nil {
				return err
			}
			c.Distributions = append(c.Distributions, d)
		}
		return nil
	})
	return c, err
}

// Marshal encodes iv4.
func (iv4 IndexV4) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldIndexV4HashID, protowire.BytesType)
	b = protowire.AppendString(b, iv4.HashID)
	b = protowire.AppendTag(b, fieldIndexV4Success, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(iv4.Success))
	if iv4.Contents != nil {
		b = appendMessage(b, fieldIndexV4Contents, iv4.Contents.Marshal())
	}
	return b
}

// UnmarshalIndexV4 decodes an IndexV4 from its wire bytes.
func UnmarshalIndexV4(data []byte) (IndexV4, error) {
	var iv4 IndexV4
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldIndexV4HashID:
			iv4.HashID = string(v)
		case fieldIndexV4Success:
			n, _ := protowire.ConsumeVarint(v)
			iv4.Success = protowire.DecodeBool(n)
		case fieldIndexV4Contents:
			c, err := UnmarshalContents(v)
			if err != nil {
				return err
			}
			iv4.Contents = &c
		}
		return nil
	})
	return iv4, err
}

// Marshal encodes r. This is the wire format sent as the host-guest
// transport payload and as the body of the index-report upsert RPC
// (spec.md §6).
func (r IndexReport) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldIndexReportVsockCID, protowire.BytesType)
	b = protowire.AppendString(b, r.VsockCID)
	if r.IndexV4 != nil {
		b = appendMessage(b, fieldIndexReportIndexV4, r.IndexV4.Marshal())
	}
	return b
}

// UnmarshalIndexReport decodes an IndexReport from its wire bytes. Returns
// an error if data is not a well-formed length-delimited protobuf message,
// matching the "unparseable guest payload: drop the frame, keep the
// connection" policy in spec.md §4.7/§7.
func UnmarshalIndexReport(data []byte) (IndexReport, error) {
	var r IndexReport
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldIndexReportVsockCID:
			r.VsockCID = string(v)
		case fieldIndexReportIndexV4:
			iv4, err := UnmarshalIndexV4(v)
			if err != nil {
				return err
			}
			r.IndexV4 = &iv4
		}
		return nil
	})
	return r, err
}

// Marshal encodes a.
func (a FileEventAncestor) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldFileEventAncestorUID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.UID))
	b = protowire.AppendTag(b, fieldFileEventAncestorExe, protowire.BytesType)
	b = protowire.AppendString(b, a.Exe)
	return b
}

// UnmarshalFileEventAncestor decodes a FileEventAncestor from its wire bytes.
func UnmarshalFileEventAncestor(data []byte) (FileEventAncestor, error) {
	var a FileEventAncestor
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldFileEventAncestorUID:
			n, _ := protowire.ConsumeVarint(v)
			a.UID = uint32(n)
		case fieldFileEventAncestorExe:
			a.Exe = string(v)
		}
		return nil
	})
	return a, err
}

// Marshal encodes ev. This is the wire format the sink sends over the
// sensor RPC for each observed file-open (spec.md §2(10), §4.2).
func (ev FileEvent) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldFileEventTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, ev.Timestamp)
	b = protowire.AppendTag(b, fieldFileEventPID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ev.PID))
	b = protowire.AppendTag(b, fieldFileEventUID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ev.UID))
	b = protowire.AppendTag(b, fieldFileEventGID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ev.GID))
	b = protowire.AppendTag(b, fieldFileEventLoginUID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ev.LoginUID))
	b = protowire.AppendTag(b, fieldFileEventComm, protowire.BytesType)
	b = protowire.AppendString(b, ev.Comm)
	for _, arg := range ev.Argv {
		b = protowire.AppendTag(b, fieldFileEventArgv, protowire.BytesType)
		b = protowire.AppendString(b, arg)
	}
	b = protowire.AppendTag(b, fieldFileEventExePath, protowire.BytesType)
	b = protowire.AppendString(b, ev.ExePath)
	b = protowire.AppendTag(b, fieldFileEventCgroupPath, protowire.BytesType)
	b = protowire.AppendString(b, ev.CgroupPath)
	b = protowire.AppendTag(b, fieldFileEventExternalMount, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(ev.ExternalMount))
	b = protowire.AppendTag(b, fieldFileEventFilename, protowire.BytesType)
	b = protowire.AppendString(b, ev.Filename)
	b = protowire.AppendTag(b, fieldFileEventHostPath, protowire.BytesType)
	b = protowire.AppendString(b, ev.HostPath)
	for _, a := range ev.Ancestors {
		b = appendMessage(b, fieldFileEventAncestors, a.Marshal())
	}
	return b
}

// UnmarshalFileEvent decodes a FileEvent from its wire bytes.
func UnmarshalFileEvent(data []byte) (FileEvent, error) {
	var ev FileEvent
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldFileEventTimestamp:
			ev.Timestamp, _ = protowire.ConsumeVarint(v)
		case fieldFileEventPID:
			n, _ := protowire.ConsumeVarint(v)
			ev.PID = uint32(n)
		case fieldFileEventUID:
			n, _ := protowire.ConsumeVarint(v)
			ev.UID = uint32(n)
		case fieldFileEventGID:
			n, _ := protowire.ConsumeVarint(v)
			ev.GID = uint32(n)
		case fieldFileEventLoginUID:
			n, _ := protowire.ConsumeVarint(v)
			ev.LoginUID = uint32(n)
		case fieldFileEventComm:
			ev.Comm = string(v)
		case fieldFileEventArgv:
			ev.Argv = append(ev.Argv, string(v))
		case fieldFileEventExePath:
			ev.ExePath = string(v)
		case fieldFileEventCgroupPath:
			ev.CgroupPath = string(v)
		case fieldFileEventExternalMount:
			n, _ := protowire.ConsumeVarint(v)
			ev.ExternalMount = protowire.DecodeBool(n)
		case fieldFileEventFilename:
			ev.Filename = string(v)
		case fieldFileEventHostPath:
			ev.HostPath = string(v)
		case fieldFileEventAncestors:
			a, err := UnmarshalFileEventAncestor(v)
			if err != nil {
				return err
			}
			ev.Ancestors = append(ev.Ancestors, a)
		}
		return nil
	})
	return ev, err
}
