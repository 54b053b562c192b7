package authority

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AstroMined/settings-extension-sub002/internal/protocol"
)

// Dispatch fulfills one request against the authority's registry and returns
// the correlated response. All writes still pass through the authority's own
// operation queue.
func (a *Authority) Dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	resp, err := a.dispatch(ctx, req)
	if err != nil {
		return protocol.Response{ID: req.ID, Error: err.Error()}
	}
	resp.ID = req.ID
	return resp
}

func (a *Authority) dispatch(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	switch req.Type {
	case protocol.MsgGetSetting:
		value, err := a.registry.Get(req.Key)
		if err != nil {
			return protocol.Response{}, err
		}
		return protocol.Response{Value: value}, nil

	case protocol.MsgGetSettings:
		values, err := a.registry.GetMany(req.Keys)
		if err != nil {
			return protocol.Response{}, err
		}
		return protocol.Response{Values: values}, nil

	case protocol.MsgGetAllSettings:
		settings, err := a.registry.Snapshot()
		if err != nil {
			return protocol.Response{}, err
		}
		return protocol.Response{Settings: settings}, nil

	case protocol.MsgUpdateSetting:
		value, err := decodeValue(req.Value)
		if err != nil {
			return protocol.Response{}, err
		}
		if err := a.registry.Set(req.Key, value); err != nil {
			return protocol.Response{}, err
		}
		return protocol.Response{Success: true}, nil

	case protocol.MsgUpdateSettings:
		updates := make(map[string]any, len(req.Updates))
		for key, raw := range req.Updates {
			value, err := decodeValue(raw)
			if err != nil {
				return protocol.Response{}, fmt.Errorf("key %q: %w", key, err)
			}
			updates[key] = value
		}
		if err := a.registry.SetMany(updates); err != nil {
			return protocol.Response{}, err
		}
		return protocol.Response{Success: true}, nil

	case protocol.MsgExportSettings:
		file, err := a.registry.ExportAll()
		if err != nil {
			return protocol.Response{}, err
		}
		return protocol.Response{Data: file}, nil

	case protocol.MsgImportSettings:
		if err := a.registry.ImportAll(ctx, req.Data); err != nil {
			return protocol.Response{}, err
		}
		return protocol.Response{Success: true}, nil

	case protocol.MsgResetSettings:
		if err := a.registry.ResetToDefaults(ctx); err != nil {
			return protocol.Response{}, err
		}
		return protocol.Response{Success: true}, nil

	default:
		return protocol.Response{}, fmt.Errorf("unknown request type %q", req.Type)
	}
}

func decodeValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing value")
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("malformed value: %w", err)
	}
	return value, nil
}
