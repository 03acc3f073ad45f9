package atoauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

const defaultPLCDirectory = "https://plc.directory"

// Resolver turns an account identifier (handle or DID) into the account's
// DID, PDS host, and the metadata of the authorization server fronting that
// host.
type Resolver struct {
	Client          *http.Client
	PLCDirectoryURL string
}

func NewResolver() *Resolver {
	return &Resolver{
		Client:          robustHTTPClient(),
		PLCDirectoryURL: defaultPLCDirectory,
	}
}

type resolvedIdentity struct {
	DID     string
	HostURL string
}

type didService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

type didDocument struct {
	ID      string       `json:"id"`
	Service []didService `json:"service"`
}

// ResolveIdentifier resolves a handle or DID to the account's DID and PDS
// host URL.
func (r *Resolver) ResolveIdentifier(ctx context.Context, identifier string) (*resolvedIdentity, error) {
	did := identifier
	if !strings.HasPrefix(identifier, "did:") {
		var err error
		did, err = r.resolveHandle(ctx, identifier)
		if err != nil {
			return nil, err
		}
	}

	doc, err := r.fetchDIDDocument(ctx, did)
	if err != nil {
		return nil, err
	}

	for _, svc := range doc.Service {
		if svc.Type == "AtprotoPersonalDataServer" || strings.HasSuffix(svc.ID, "#atproto_pds") {
			return &resolvedIdentity{DID: did, HostURL: strings.TrimSuffix(svc.ServiceEndpoint, "/")}, nil
		}
	}
	return nil, fmt.Errorf("DID document for %s declares no PDS", did)
}

// resolveHandle tries the DNS TXT method first, then the HTTPS well-known
// fallback.
func (r *Resolver) resolveHandle(ctx context.Context, handle string) (string, error) {
	if !strings.Contains(handle, ".") || strings.ContainsAny(handle, "/ ") {
		return "", fmt.Errorf("invalid handle: %s", handle)
	}

	if txts, err := net.DefaultResolver.LookupTXT(ctx, "_atproto."+handle); err == nil {
		for _, txt := range txts {
			if did, ok := strings.CutPrefix(txt, "did="); ok {
				return did, nil
			}
		}
	}

	body, err := r.fetch(ctx, fmt.Sprintf("https://%s/.well-known/atproto-did", handle))
	if err != nil {
		return "", fmt.Errorf("resolving handle %s: %w", handle, err)
	}
	did := strings.TrimSpace(string(body))
	if !strings.HasPrefix(did, "did:") {
		return "", fmt.Errorf("resolving handle %s: well-known response is not a DID", handle)
	}
	return did, nil
}

func (r *Resolver) fetchDIDDocument(ctx context.Context, did string) (*didDocument, error) {
	var docURL string
	switch {
	case strings.HasPrefix(did, "did:plc:"):
		docURL = fmt.Sprintf("%s/%s", r.PLCDirectoryURL, did)
	case strings.HasPrefix(did, "did:web:"):
		host := strings.TrimPrefix(did, "did:web:")
		docURL = fmt.Sprintf("https://%s/.well-known/did.json", host)
	default:
		return nil, fmt.Errorf("unsupported DID method: %s", did)
	}

	body, err := r.fetch(ctx, docURL)
	if err != nil {
		return nil, fmt.Errorf("fetching DID document for %s: %w", did, err)
	}

	var doc didDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing DID document for %s: %w", did, err)
	}
	if doc.ID != did {
		return nil, fmt.Errorf("DID document identity mismatch: %s != %s", doc.ID, did)
	}
	return &doc, nil
}

// ResolveAuthServer discovers and validates the authorization server
// metadata for a resource host (eg, a PDS).
func (r *Resolver) ResolveAuthServer(ctx context.Context, hostURL string) (*AuthServerMetadata, error) {
	body, err := r.fetch(ctx, hostURL+"/.well-known/oauth-protected-resource")
	if err != nil {
		return nil, fmt.Errorf("fetching protected resource metadata: %w", err)
	}
	var prm ProtectedResourceMetadata
	if err := json.Unmarshal(body, &prm); err != nil {
		return nil, fmt.Errorf("parsing protected resource metadata: %w", err)
	}
	if len(prm.AuthorizationServers) == 0 {
		return nil, fmt.Errorf("host %s declares no authorization servers", hostURL)
	}
	issuer := strings.TrimSuffix(prm.AuthorizationServers[0], "/")

	metaURL := issuer + "/.well-known/oauth-authorization-server"
	body, err = r.fetch(ctx, metaURL)
	if err != nil {
		return nil, fmt.Errorf("fetching auth server metadata: %w", err)
	}
	var meta AuthServerMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("parsing auth server metadata: %w", err)
	}
	if err := meta.Validate(metaURL); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (r *Resolver) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("GET %s: HTTP %d", u, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
