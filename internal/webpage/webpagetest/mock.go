package webpagetest

import (
	"context"
	"net/url"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
)

// MockPage is a testify mock of webpage.Page.
type MockPage struct {
	mock.Mock
}

var _ webpage.Page = (*MockPage)(nil)

func (m *MockPage) IsActive() bool {
	return m.Called().Bool(0)
}

func (m *MockPage) NavigateTo(ctx context.Context, u *url.URL, timeout time.Duration) (int, error) {
	args := m.Called(ctx, u, timeout)
	return args.Int(0), args.Error(1)
}

func (m *MockPage) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPage) AuthenticateHTTP(ctx context.Context, username, password string) (bool, error) {
	args := m.Called(ctx, username, password)
	return args.Bool(0), args.Error(1)
}

func (m *MockPage) SetUserAgent(ctx context.Context, userAgent string) error {
	return m.Called(ctx, userAgent).Error(0)
}

func (m *MockPage) CurrentURL() *url.URL {
	u, _ := m.Called().Get(0).(*url.URL)
	return u
}

func (m *MockPage) Title(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) HTML(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Links(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	links, _ := args.Get(0).([]string)
	return links, args.Error(1)
}

func (m *MockPage) Texts(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	texts, _ := args.Get(0).([]string)
	return texts, args.Error(1)
}

func (m *MockPage) DateElement(ctx context.Context) (webpage.Date, error) {
	args := m.Called(ctx)
	date, _ := args.Get(0).(webpage.Date)
	return date, args.Error(1)
}

func (m *MockPage) FindElementCSS(ctx context.Context, selector string) (string, bool, error) {
	args := m.Called(ctx, selector)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockPage) FindAllElementsCSS(ctx context.Context, selector string) ([]string, error) {
	args := m.Called(ctx, selector)
	texts, _ := args.Get(0).([]string)
	return texts, args.Error(1)
}

func (m *MockPage) FindElementXPath(ctx context.Context, selector string) (string, bool, error) {
	args := m.Called(ctx, selector)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockPage) WaitForSelectorCSS(ctx context.Context, selector string, timeout time.Duration) error {
	return m.Called(ctx, selector, timeout).Error(0)
}

func (m *MockPage) WaitForSelectorXPath(ctx context.Context, selector string, timeout time.Duration) error {
	return m.Called(ctx, selector, timeout).Error(0)
}

func (m *MockPage) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

// MockBrowser is a testify mock of webpage.Browser.
type MockBrowser struct {
	mock.Mock
}

var _ webpage.Browser = (*MockBrowser)(nil)

func (m *MockBrowser) Init(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockBrowser) NewPage(ctx context.Context) (webpage.Page, error) {
	args := m.Called(ctx)
	page, _ := args.Get(0).(webpage.Page)
	return page, args.Error(1)
}

func (m *MockBrowser) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockBrowser) IsActive() bool {
	return m.Called().Bool(0)
}
