// Package remoteapi is the typed request/response layer over the upstream
// merge-request service's HTTP API. It owns auth headers, pagination, and
// error classification; every other package talks to upstream only through
// this client so the discard/retry policy in internal/syncproc has one
// place to trust.
package remoteapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ultragitlab/ultragitlab/internal/apperror"
)

const apiPrefix = "/api/v4"

// Client is a single HTTP client bound to one instance's base URL and
// token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Config seeds a new Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration // default 30s
}

// New returns a Client ready to issue requests.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		},
	}
}

// WithHTTPClient returns a copy of c using httpClient for transport, used
// by tests to point at an httptest.Server with a short timeout.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	cp := *c
	cp.httpClient = httpClient
	return &cp
}

func (c *Client) apiURL(path string) string {
	return c.baseURL + apiPrefix + path
}

// do issues an HTTP request and classifies any non-2xx response into the
// apperror taxonomy, decoding a successful JSON body into out (skipped if
// out is nil, for 204-style endpoints).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, apperror.NewInternal("marshal request body: " + err.Error())
		}
		reqBody = bytes.NewReader(b)
	}

	fullURL := c.apiURL(path)
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, apperror.NewInternal("build request: " + err.Error())
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.NewNetwork(err.Error()).Wrap(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, apperror.NewNetwork("read response body: " + err.Error()).Wrap(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, classify(resp.StatusCode, path, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp, apperror.NewInternal(fmt.Sprintf("parse response from %s: %v", path, err))
		}
	}
	return resp, nil
}

// ValidateToken fetches the current user, also used by the sync engine at
// the top of each tick to confirm the token is still valid.
func (c *Client) ValidateToken(ctx context.Context) (*User, error) {
	var u User
	if _, err := c.do(ctx, http.MethodGet, "/user", nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (q MergeRequestsQuery) values() url.Values {
	v := url.Values{}
	if q.State != "" {
		v.Set("state", q.State)
	}
	if q.Scope != "" {
		v.Set("scope", q.Scope)
	}
	if q.AuthorUsername != "" {
		v.Set("author_username", q.AuthorUsername)
	}
	if q.ReviewerUsername != "" {
		v.Set("reviewer_username", q.ReviewerUsername)
	}
	if q.UpdatedAfter != "" {
		v.Set("updated_after", q.UpdatedAfter)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	return v
}

// ListMergeRequests fetches one page of the list-MRs endpoint and returns
// the parsed pagination headers alongside the data.
func (c *Client) ListMergeRequests(ctx context.Context, q MergeRequestsQuery) ([]MergeRequest, Pagination, error) {
	var mrs []MergeRequest
	resp, err := c.do(ctx, http.MethodGet, "/merge_requests", q.values(), nil, &mrs)
	if err != nil {
		return nil, Pagination{}, err
	}
	return mrs, parsePagination(resp), nil
}

// ListAllMergeRequests loops ListMergeRequests, always requesting
// per_page=100 and following X-Next-Page until absent, so every element is
// collected exactly once.
func (c *Client) ListAllMergeRequests(ctx context.Context, q MergeRequestsQuery) ([]MergeRequest, error) {
	q.PerPage = 100
	var all []MergeRequest
	page := 1
	for {
		q.Page = page
		mrs, pg, err := c.ListMergeRequests(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, mrs...)
		if pg.NextPage == nil {
			break
		}
		page = *pg.NextPage
	}
	return all, nil
}

func mrPath(projectID, iid int64) string {
	return fmt.Sprintf("/projects/%d/merge_requests/%d", projectID, iid)
}

func (c *Client) GetMergeRequest(ctx context.Context, projectID, iid int64) (*MergeRequest, error) {
	var mr MergeRequest
	if _, err := c.do(ctx, http.MethodGet, mrPath(projectID, iid), nil, nil, &mr); err != nil {
		return nil, err
	}
	return &mr, nil
}

func (c *Client) ListDiffVersions(ctx context.Context, projectID, iid int64) ([]DiffVersionSummary, error) {
	var versions []DiffVersionSummary
	if _, err := c.do(ctx, http.MethodGet, mrPath(projectID, iid)+"/versions", nil, nil, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

func (c *Client) GetDiffVersion(ctx context.Context, projectID, iid, versionID int64) (*DiffVersion, error) {
	var v DiffVersion
	path := fmt.Sprintf("%s/versions/%d", mrPath(projectID, iid), versionID)
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetLatestMergeRequestDiff fetches the version list and returns the first
// (newest) entry's full diff.
func (c *Client) GetLatestMergeRequestDiff(ctx context.Context, projectID, iid int64) (*DiffVersion, error) {
	versions, err := c.ListDiffVersions(ctx, projectID, iid)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, apperror.NewNotFoundWithID("DiffVersion", fmt.Sprintf("project=%d iid=%d", projectID, iid))
	}
	return c.GetDiffVersion(ctx, projectID, iid, versions[0].ID)
}

// GetMergeRequestApprovals fetches the approval summary used to project
// model.ApprovalStatus and model.MergeRequest.UserHasApproved.
func (c *Client) GetMergeRequestApprovals(ctx context.Context, projectID, iid int64) (*MergeRequestApprovals, error) {
	var a MergeRequestApprovals
	if _, err := c.do(ctx, http.MethodGet, mrPath(projectID, iid)+"/approvals", nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) ApproveMergeRequest(ctx context.Context, projectID, iid int64) error {
	_, err := c.do(ctx, http.MethodPost, mrPath(projectID, iid)+"/approve", nil, nil, nil)
	return err
}

func (c *Client) UnapproveMergeRequest(ctx context.Context, projectID, iid int64) error {
	_, err := c.do(ctx, http.MethodPost, mrPath(projectID, iid)+"/unapprove", nil, nil, nil)
	return err
}

func (c *Client) MergeMergeRequest(ctx context.Context, projectID, iid int64) error {
	_, err := c.do(ctx, http.MethodPut, mrPath(projectID, iid)+"/merge", nil, nil, nil)
	return err
}

func (c *Client) RebaseMergeRequest(ctx context.Context, projectID, iid int64) error {
	_, err := c.do(ctx, http.MethodPut, mrPath(projectID, iid)+"/rebase", nil, nil, nil)
	return err
}

func (c *Client) ListDiscussions(ctx context.Context, projectID, iid int64) ([]Discussion, error) {
	var all []Discussion
	page := 1
	for {
		var page_discussions []Discussion
		q := url.Values{"page": {strconv.Itoa(page)}, "per_page": {"100"}}
		resp, err := c.do(ctx, http.MethodGet, mrPath(projectID, iid)+"/discussions", q, nil, &page_discussions)
		if err != nil {
			return nil, err
		}
		all = append(all, page_discussions...)
		pg := parsePagination(resp)
		if pg.NextPage == nil {
			break
		}
		page = *pg.NextPage
	}
	return all, nil
}

type addCommentBody struct {
	Body string `json:"body"`
}

func (c *Client) AddComment(ctx context.Context, projectID, iid int64, body string) error {
	_, err := c.do(ctx, http.MethodPost, mrPath(projectID, iid)+"/notes", nil, addCommentBody{Body: body}, nil)
	return err
}

type inlinePosition struct {
	BaseSHA      string `json:"base_sha"`
	HeadSHA      string `json:"head_sha"`
	StartSHA     string `json:"start_sha"`
	PositionType string `json:"position_type"`
	OldPath      string `json:"old_path"`
	NewPath      string `json:"new_path"`
	OldLine      *int64 `json:"old_line,omitempty"`
	NewLine      *int64 `json:"new_line,omitempty"`
}

type addInlineCommentBody struct {
	Body     string         `json:"body"`
	Position inlinePosition `json:"position"`
}

// AddInlineComment anchors a comment to (filePath, oldLine/newLine) at the
// given (base, head, start) SHA triple.
func (c *Client) AddInlineComment(ctx context.Context, projectID, iid int64, body, filePath string, oldLine, newLine *int64, baseSHA, headSHA, startSHA string) error {
	in := addInlineCommentBody{
		Body: body,
		Position: inlinePosition{
			BaseSHA:      baseSHA,
			HeadSHA:      headSHA,
			StartSHA:     startSHA,
			PositionType: "text",
			OldPath:      filePath,
			NewPath:      filePath,
			OldLine:      oldLine,
			NewLine:      newLine,
		},
	}
	_, err := c.do(ctx, http.MethodPost, mrPath(projectID, iid)+"/discussions", nil, in, nil)
	return err
}

func (c *Client) ReplyToDiscussion(ctx context.Context, projectID, iid int64, discussionID, body string) error {
	path := fmt.Sprintf("%s/discussions/%s/notes", mrPath(projectID, iid), discussionID)
	_, err := c.do(ctx, http.MethodPost, path, nil, addCommentBody{Body: body}, nil)
	return err
}

type resolveBody struct {
	Resolved bool `json:"resolved"`
}

func (c *Client) ResolveDiscussion(ctx context.Context, projectID, iid int64, discussionID string, resolved bool) error {
	path := fmt.Sprintf("%s/discussions/%s", mrPath(projectID, iid), discussionID)
	_, err := c.do(ctx, http.MethodPut, path, nil, resolveBody{Resolved: resolved}, nil)
	return err
}

func (c *Client) ListPipelineJobs(ctx context.Context, projectID, pipelineID int64) ([]PipelineJob, error) {
	var jobs []PipelineJob
	path := fmt.Sprintf("/projects/%d/pipelines/%d/jobs", projectID, pipelineID)
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *Client) jobAction(ctx context.Context, projectID, jobID int64, action string) error {
	path := fmt.Sprintf("/projects/%d/jobs/%d/%s", projectID, jobID, action)
	_, err := c.do(ctx, http.MethodPost, path, nil, nil, nil)
	return err
}

func (c *Client) PlayJob(ctx context.Context, projectID, jobID int64) error  { return c.jobAction(ctx, projectID, jobID, "play") }
func (c *Client) RetryJob(ctx context.Context, projectID, jobID int64) error { return c.jobAction(ctx, projectID, jobID, "retry") }
func (c *Client) CancelJob(ctx context.Context, projectID, jobID int64) error { return c.jobAction(ctx, projectID, jobID, "cancel") }

// GetRawFileContent fetches a file's content at a specific SHA. A 404 is
// not an error here: "file absent at this SHA" is an expected empty-content
// result (e.g. the file was added/deleted between base and head).
func (c *Client) GetRawFileContent(ctx context.Context, projectID int64, filePath, sha string) ([]byte, error) {
	path := fmt.Sprintf("/projects/%d/repository/files/%s/raw", projectID, url.PathEscape(filePath))
	q := url.Values{"ref": {sha}}

	fullURL := c.apiURL(path) + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, apperror.NewInternal("build request: " + err.Error())
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.NewNetwork(err.Error()).Wrap(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.NewNetwork("read response body: " + err.Error()).Wrap(err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return []byte{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classify(resp.StatusCode, path, body)
	}
	return body, nil
}

func (c *Client) ListProjects(ctx context.Context, search string) ([]Project, error) {
	var projects []Project
	q := url.Values{"per_page": {"100"}}
	if search != "" {
		q.Set("search", search)
	}
	if _, err := c.do(ctx, http.MethodGet, "/projects", q, nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (c *Client) GetProject(ctx context.Context, projectID int64) (*Project, error) {
	var p Project
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%d", projectID), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
