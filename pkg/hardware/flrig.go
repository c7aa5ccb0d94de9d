package hardware

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dougsko/rigmacros/pkg/logging"
)

const maxResponseSize = 1 << 20

// FlrigClient talks XML-RPC to a running flrig instance
type FlrigClient struct {
	url    string
	client *http.Client
}

// NewFlrigClient creates a client for the flrig endpoint at url
func NewFlrigClient(url string, timeout time.Duration) *FlrigClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &FlrigClient{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// URL returns the flrig endpoint
func (f *FlrigClient) URL() string {
	return f.url
}

// GetFrequency returns the VFO A frequency in Hz
func (f *FlrigClient) GetFrequency(ctx context.Context) (float64, error) {
	return f.callFloat(ctx, "rig.get_vfoA")
}

// SetFrequency tunes VFO A
func (f *FlrigClient) SetFrequency(ctx context.Context, hz float64) error {
	_, err := f.call(ctx, "main.set_frequency", hz)
	return err
}

// GetFrequencyB returns the VFO B frequency in Hz
func (f *FlrigClient) GetFrequencyB(ctx context.Context) (float64, error) {
	return f.callFloat(ctx, "rig.get_vfoB")
}

// GetMode returns the operating mode of VFO A
func (f *FlrigClient) GetMode(ctx context.Context) (string, error) {
	return f.call(ctx, "rig.get_mode")
}

// SetMode sets the operating mode (USB, USB-D, CW ...)
func (f *FlrigClient) SetMode(ctx context.Context, mode string) error {
	_, err := f.call(ctx, "rig.set_mode", mode)
	return err
}

// GetModeB returns the operating mode of VFO B
func (f *FlrigClient) GetModeB(ctx context.Context) (string, error) {
	return f.call(ctx, "rig.get_modeB")
}

// GetVFO returns the active VFO ("A" or "B")
func (f *FlrigClient) GetVFO(ctx context.Context) (string, error) {
	v, err := f.call(ctx, "rig.get_AB")
	if err != nil {
		return "", err
	}
	return strings.ToUpper(strings.TrimSpace(v)), nil
}

// SetVFO selects the active VFO
func (f *FlrigClient) SetVFO(ctx context.Context, vfo string) error {
	_, err := f.call(ctx, "rig.set_AB", strings.ToUpper(vfo))
	return err
}

// CopyVFOAToB copies VFO A frequency and mode onto VFO B
func (f *FlrigClient) CopyVFOAToB(ctx context.Context) error {
	_, err := f.call(ctx, "rig.vfoA2B")
	return err
}

// GetSplit reports whether split operation is on
func (f *FlrigClient) GetSplit(ctx context.Context) (bool, error) {
	return f.callBool(ctx, "rig.get_split")
}

// SetSplit turns split operation on or off
func (f *FlrigClient) SetSplit(ctx context.Context, on bool) error {
	v := 0
	if on {
		v = 1
	}
	_, err := f.call(ctx, "rig.set_split", v)
	return err
}

// GetPTT reports whether the rig is transmitting
func (f *FlrigClient) GetPTT(ctx context.Context) (bool, error) {
	return f.callBool(ctx, "rig.get_ptt")
}

// GetPowerMeter returns the forward power reading in watts
func (f *FlrigClient) GetPowerMeter(ctx context.Context) (float64, error) {
	return f.callFloat(ctx, "rig.get_pwrmeter")
}

func (f *FlrigClient) callFloat(ctx context.Context, method string) (float64, error) {
	v, err := f.call(ctx, method)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("flrig %s: %w: not a number: %q", method, ErrRigProtocol, v)
	}
	return n, nil
}

func (f *FlrigClient) callBool(ctx context.Context, method string) (bool, error) {
	v, err := f.call(ctx, method)
	if err != nil {
		return false, err
	}
	b, ok := parseRPCBool(v)
	if !ok {
		return false, fmt.Errorf("flrig %s: %w: not a boolean: %q", method, ErrRigProtocol, v)
	}
	return b, nil
}

// call performs one XML-RPC round trip and returns the scalar result as text
func (f *FlrigClient) call(ctx context.Context, method string, params ...interface{}) (string, error) {
	body, err := encodeMethodCall(method, params...)
	if err != nil {
		return "", fmt.Errorf("flrig %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("flrig %s: %w: %w", method, ErrRigUnreachable, err)
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("flrig %s: %w: %w", method, ErrRigUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("flrig %s: %w: HTTP %s", method, ErrRigProtocol, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("flrig %s: %w: %w", method, ErrRigUnreachable, err)
	}

	value, err := decodeMethodResponse(data)
	if err != nil {
		return "", fmt.Errorf("flrig %s: %w", method, err)
	}

	logging.Debugf("flrig", "%s -> %q", method, value)
	return value, nil
}

// encodeMethodCall builds a <methodCall> document for the given scalar params
func encodeMethodCall(method string, params ...interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodCall><methodName>")
	xml.EscapeText(&buf, []byte(method))
	buf.WriteString("</methodName>")

	if len(params) > 0 {
		buf.WriteString("<params>")
		for _, param := range params {
			buf.WriteString("<param><value>")
			switch v := param.(type) {
			case string:
				buf.WriteString("<string>")
				xml.EscapeText(&buf, []byte(v))
				buf.WriteString("</string>")
			case int:
				fmt.Fprintf(&buf, "<int>%d</int>", v)
			case float64:
				buf.WriteString("<double>")
				buf.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
				buf.WriteString("</double>")
			case bool:
				if v {
					buf.WriteString("<boolean>1</boolean>")
				} else {
					buf.WriteString("<boolean>0</boolean>")
				}
			default:
				return nil, fmt.Errorf("unsupported XML-RPC param type %T", param)
			}
			buf.WriteString("</value></param>")
		}
		buf.WriteString("</params>")
	}

	buf.WriteString("</methodCall>")
	return buf.Bytes(), nil
}

type rpcValue struct {
	String  *string    `xml:"string"`
	Double  *string    `xml:"double"`
	Int     *string    `xml:"int"`
	I4      *string    `xml:"i4"`
	Boolean *string    `xml:"boolean"`
	Struct  *rpcStruct `xml:"struct"`
	Text    string     `xml:",chardata"`
}

type rpcStruct struct {
	Members []struct {
		Name  string   `xml:"name"`
		Value rpcValue `xml:"value"`
	} `xml:"member"`
}

type rpcResponse struct {
	XMLName xml.Name `xml:"methodResponse"`
	Params  []struct {
		Value rpcValue `xml:"value"`
	} `xml:"params>param"`
	Fault *struct {
		Value rpcValue `xml:"value"`
	} `xml:"fault"`
}

// scalar returns the text of a scalar value; untyped values are strings
func (v rpcValue) scalar() string {
	switch {
	case v.String != nil:
		return *v.String
	case v.Double != nil:
		return strings.TrimSpace(*v.Double)
	case v.Int != nil:
		return strings.TrimSpace(*v.Int)
	case v.I4 != nil:
		return strings.TrimSpace(*v.I4)
	case v.Boolean != nil:
		return strings.TrimSpace(*v.Boolean)
	default:
		return strings.TrimSpace(v.Text)
	}
}

func (v rpcValue) member(name string) string {
	if v.Struct == nil {
		return ""
	}
	for _, m := range v.Struct.Members {
		if m.Name == name {
			return m.Value.scalar()
		}
	}
	return ""
}

// decodeMethodResponse extracts the single result of a <methodResponse>
func decodeMethodResponse(data []byte) (string, error) {
	var resp rpcResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrRigProtocol, err)
	}

	if resp.Fault != nil {
		code := resp.Fault.Value.member("faultCode")
		msg := resp.Fault.Value.member("faultString")
		return "", fmt.Errorf("%w: fault %s: %s", ErrRigProtocol, code, msg)
	}

	// flrig setters return an empty params list
	if len(resp.Params) == 0 {
		return "", nil
	}
	return resp.Params[0].Value.scalar(), nil
}

func parseRPCBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true":
		return true, true
	case "0", "false", "":
		return false, true
	}
	return false, false
}
