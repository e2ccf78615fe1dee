package dispatcher

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/angeloszaimis/discovery-proxy/internal/apperror"
	"github.com/angeloszaimis/discovery-proxy/internal/registry"
)

const (
	fieldAddress = "ip_address"
	fieldPort    = "ip_port"
	fieldPath    = "path"
)

// registrationBody is the optional JSON body of a POST /register.
// ip_port may be a number or a numeric string.
type registrationBody struct {
	IPAddress string      `json:"ip_address"`
	IPPort    json.Number `json:"ip_port"`
	Path      string      `json:"path"`
}

// parseRegistration reads the target path and endpoint from the query string.
// A POST body, JSON or form encoded, fills only the fields the query leaves out.
func parseRegistration(req Request) (string, registry.Endpoint, error) {
	address := strings.TrimSpace(req.Query.Get(fieldAddress))
	port := strings.TrimSpace(req.Query.Get(fieldPort))
	path := strings.TrimSpace(req.Query.Get(fieldPath))

	incomplete := address == "" || port == "" || path == ""
	if incomplete && req.Method == http.MethodPost && len(bytes.TrimSpace(req.Body)) > 0 {
		body, err := decodeRegistrationBody(req)
		if err != nil {
			return "", registry.Endpoint{}, err
		}
		if address == "" {
			address = strings.TrimSpace(body.IPAddress)
		}
		if port == "" {
			port = strings.TrimSpace(body.IPPort.String())
		}
		if path == "" {
			path = strings.TrimSpace(body.Path)
		}
	}

	var missing []string
	if address == "" {
		missing = append(missing, fieldAddress)
	}
	if port == "" {
		missing = append(missing, fieldPort)
	}
	if path == "" {
		missing = append(missing, fieldPath)
	}
	if len(missing) > 0 {
		return "", registry.Endpoint{}, apperror.InvalidArgument("missing required field(s): " + strings.Join(missing, ", "))
	}

	if path == RegisterPath {
		return "", registry.Endpoint{}, apperror.InvalidArgument("path " + RegisterPath + " is reserved for registration")
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return "", registry.Endpoint{}, apperror.Newf(apperror.CodeInvalidArgument, nil, "%s %q is not an integer", fieldPort, port)
	}

	endpoint, err := registry.NewEndpoint(address, portNum)
	if err != nil {
		return "", registry.Endpoint{}, err
	}

	return path, endpoint, nil
}

func decodeRegistrationBody(req Request) (registrationBody, error) {
	var body registrationBody

	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(req.Body))
		if err != nil {
			return body, apperror.New(apperror.CodeInvalidArgument, "request body is not a valid form", err)
		}
		body.IPAddress = form.Get(fieldAddress)
		body.IPPort = json.Number(form.Get(fieldPort))
		body.Path = form.Get(fieldPath)
		return body, nil
	}

	if err := json.Unmarshal(req.Body, &body); err != nil {
		return body, apperror.New(apperror.CodeInvalidArgument, "request body is not valid JSON", err)
	}
	return body, nil
}
