package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Styling
var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#0a84ff")).
			Padding(0, 1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#30d158")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#ff453a")).
			Padding(0, 1)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1c1c1e")).
			Background(lipgloss.Color("#ffd60a")).
			Padding(0, 1)

	focusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var stockLevels = []string{"all", "low", "in-stock"}

// Model defines the application state
type Model struct {
	table      table.Model
	search     textinput.Model
	form       itemForm
	spinner    spinner.Model
	client     *ApiClient
	items      []Item
	total      int
	categories []string
	alert      *Alert
	status     SessionStatus

	category    string
	stock       string
	query       string
	currentView string
	loading     bool
	signingIn   bool
	pendingID   string
	message     string
	error       string
}

// Initialize the model
func initialModel(client *ApiClient) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	columns := []table.Column{
		{Title: "Name", Width: 24},
		{Title: "SKU", Width: 12},
		{Title: "Qty", Width: 6},
		{Title: "Price", Width: 10},
		{Title: "Category", Width: 16},
		{Title: "Low at", Width: 7},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	ti := textinput.New()
	ti.Placeholder = "name, SKU or category"
	ti.CharLimit = 100
	ti.Width = 40

	return Model{
		table:       t,
		search:      ti,
		spinner:     s,
		client:      client,
		category:    "all",
		stock:       "all",
		currentView: "list",
		loading:     true,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tea.EnterAltScreen, fetchStatus(m.client), fetchAll(m.client, Filter{}))
}

// Update handles UI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.currentView {
		case "list":
			return m.updateList(msg)
		case "search":
			return m.updateSearch(msg)
		case "form":
			return m.updateForm(msg)
		case "confirm":
			return m.updateConfirm(msg)
		}
	case dataMsg:
		m.loading = false
		m.items = msg.items.Items
		m.total = msg.items.Total
		m.categories = msg.categories
		m.alert = msg.alert
		m.table.SetRows(itemRows(m.items))
		return m, nil
	case statusMsg:
		m.status = msg.status
		if m.signingIn {
			return m, pollStatus(m.client)
		}
		return m, nil
	case signInDoneMsg:
		m.signingIn = false
		if msg.err != nil {
			m.error = fmt.Sprintf("Sign in failed: %v", msg.err)
			return m, fetchStatus(m.client)
		}
		m.message = "Signed in"
		return m, tea.Batch(fetchStatus(m.client), m.reload())
	case doneMsg:
		m.error = ""
		m.message = msg.message
		return m, tea.Batch(fetchStatus(m.client), m.reload())
	case errorMsg:
		m.loading = false
		m.error = msg.err
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "/":
		m.currentView = "search"
		m.search.SetValue(m.query)
		return m, m.search.Focus()
	case "c":
		m.category = nextOf(append([]string{"all"}, m.categories...), m.category)
		return m, m.reload()
	case "s":
		m.stock = nextOf(stockLevels, m.stock)
		return m, m.reload()
	case "r":
		m.loading = true
		m.message = ""
		return m, refresh(m.client)
	case "a":
		m.form = newItemForm(nil)
		m.currentView = "form"
		m.error = ""
		return m, nil
	case "e":
		if item := m.selected(); item != nil {
			m.form = newItemForm(item)
			m.currentView = "form"
			m.error = ""
		}
		return m, nil
	case "d":
		if item := m.selected(); item != nil {
			m.pendingID = item.ID
			m.currentView = "confirm"
		}
		return m, nil
	case "i":
		if m.signingIn {
			return m, nil
		}
		m.signingIn = true
		m.error = ""
		m.message = "Waiting for browser sign in..."
		return m, tea.Batch(signIn(m.client), pollStatus(m.client))
	case "o":
		return m, signOut(m.client)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.query = strings.TrimSpace(m.search.Value())
		m.search.Blur()
		m.currentView = "list"
		return m, m.reload()
	case "esc":
		m.search.Blur()
		m.currentView = "list"
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.currentView = "list"
		return m, nil
	case "tab", "down":
		return m, m.form.move(1)
	case "shift+tab", "up":
		return m, m.form.move(-1)
	case "enter":
		fields, err := m.form.fields()
		if err != nil {
			m.error = err.Error()
			return m, nil
		}
		m.currentView = "list"
		m.error = ""
		if m.form.editingID != "" {
			return m, updateItem(m.client, m.form.editingID, fields)
		}
		return m, createItem(m.client, fields)
	}
	return m, m.form.update(msg)
}

func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.currentView = "list"
	if msg.String() == "y" {
		return m, deleteItem(m.client, m.pendingID)
	}
	m.pendingID = ""
	return m, nil
}

func (m Model) filter() Filter {
	q := m.query
	return Filter{Query: &q, Category: m.category, Stock: m.stock}
}

func (m Model) reload() tea.Cmd {
	return fetchAll(m.client, m.filter())
}

func (m Model) selected() *Item {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.items) {
		return nil
	}
	item := m.items[i]
	return &item
}

// View renders the UI
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Stockroom") + " " + sessionBadge(m.status))
	if m.loading || m.signingIn {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n\n")

	if m.signingIn && m.status.PendingURL != "" {
		b.WriteString(infoStyle.Render("Open this URL to sign in:") + "\n" + m.status.PendingURL + "\n\n")
	}
	if m.alert != nil && m.alert.Count > 0 {
		b.WriteString(alertView(*m.alert) + "\n")
	}

	switch m.currentView {
	case "form":
		title := "Add item"
		if m.form.editingID != "" {
			title = "Edit item"
		}
		b.WriteString(titleStyle.Render(title) + "\n\n" + m.form.view())
		b.WriteString(helpStyle.Render("\ntab/shift+tab move • enter save • esc cancel") + "\n")
	default:
		b.WriteString(fmt.Sprintf("Search: %q  Category: %s  Stock: %s  (%d of %d)\n\n",
			m.query, m.category, m.stock, len(m.items), m.total))
		b.WriteString(m.table.View() + "\n")
		switch m.currentView {
		case "search":
			b.WriteString("\n/ " + m.search.View() + "\n")
		case "confirm":
			b.WriteString("\n" + warnStyle.Render("Delete this item? (y/n)") + "\n")
		default:
			b.WriteString(helpStyle.Render("\n/ search • c category • s stock • r refresh • a add • e edit • d delete • i sign in • o sign out • q quit") + "\n")
		}
	}

	if m.message != "" {
		b.WriteString("\n" + successStyle.Render(m.message) + "\n")
	}
	if m.error != "" {
		b.WriteString("\n" + errorStyle.Render(m.error) + "\n")
	}
	return docStyle.Render(b.String())
}

func sessionBadge(s SessionStatus) string {
	switch s.State {
	case "signed_in":
		label := "signed in"
		if s.Account != "" {
			label += " as " + s.Account
		}
		return successStyle.Render(label)
	case "refreshing":
		return infoStyle.Render("refreshing")
	default:
		return errorStyle.Render("signed out")
	}
}

func alertView(a Alert) string {
	var b strings.Builder
	b.WriteString(warnStyle.Render(a.Message) + "\n")
	for _, item := range a.Items {
		b.WriteString(fmt.Sprintf("  • %s: %d (threshold %d)\n", item.Name, item.Quantity, item.Threshold))
	}
	if a.Remaining > 0 {
		b.WriteString(fmt.Sprintf("  ...and %d more\n", a.Remaining))
	}
	return b.String()
}

func itemRows(items []Item) []table.Row {
	rows := make([]table.Row, len(items))
	for i, item := range items {
		rows[i] = table.Row{
			item.Name,
			item.SKU,
			strconv.Itoa(item.Quantity),
			fmt.Sprintf("%.2f", item.Price),
			item.Category,
			strconv.Itoa(item.LowStockLevel),
		}
	}
	return rows
}

// nextOf cycles through options starting after current
func nextOf(options []string, current string) string {
	for i, o := range options {
		if o == current {
			return options[(i+1)%len(options)]
		}
	}
	return options[0]
}

// Custom message types for the tea.Model
type dataMsg struct {
	items      *ItemList
	categories []string
	alert      *Alert
}

type statusMsg struct {
	status SessionStatus
}

type signInDoneMsg struct {
	err error
}

type errorMsg struct {
	err string
}

type doneMsg struct {
	message string
}

// fetchAll retrieves the filtered items, categories and alert
func fetchAll(client *ApiClient, f Filter) tea.Cmd {
	return func() tea.Msg {
		items, err := client.ListItems(f)
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error fetching items: %v", err)}
		}
		categories, err := client.GetCategories()
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error fetching categories: %v", err)}
		}
		alert, err := client.GetLowStock()
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error fetching low stock alert: %v", err)}
		}
		return dataMsg{items: items, categories: categories, alert: alert}
	}
}

func fetchStatus(client *ApiClient) tea.Cmd {
	return func() tea.Msg {
		status, err := client.GetAuthStatus()
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error fetching session: %v", err)}
		}
		return statusMsg{status: *status}
	}
}

// pollStatus refreshes the session state while a sign-in is pending
func pollStatus(client *ApiClient) tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg {
		return fetchStatus(client)()
	})
}

func refresh(client *ApiClient) tea.Cmd {
	return func() tea.Msg {
		if err := client.Refresh(); err != nil {
			return errorMsg{err: fmt.Sprintf("Error refreshing: %v", err)}
		}
		return doneMsg{message: "Refreshed"}
	}
}

func createItem(client *ApiClient, fields ItemFields) tea.Cmd {
	return func() tea.Msg {
		item, err := client.CreateItem(fields)
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error adding item: %v", err)}
		}
		return doneMsg{message: fmt.Sprintf("Added %s", item.Name)}
	}
}

func updateItem(client *ApiClient, id string, fields ItemFields) tea.Cmd {
	return func() tea.Msg {
		item, err := client.UpdateItem(id, fields)
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error updating item: %v", err)}
		}
		return doneMsg{message: fmt.Sprintf("Updated %s", item.Name)}
	}
}

func deleteItem(client *ApiClient, id string) tea.Cmd {
	return func() tea.Msg {
		if err := client.DeleteItem(id); err != nil {
			return errorMsg{err: fmt.Sprintf("Error deleting item: %v", err)}
		}
		return doneMsg{message: "Item deleted"}
	}
}

func signIn(client *ApiClient) tea.Cmd {
	return func() tea.Msg {
		_, err := client.SignIn()
		return signInDoneMsg{err: err}
	}
}

func signOut(client *ApiClient) tea.Cmd {
	return func() tea.Msg {
		if err := client.SignOut(); err != nil {
			return errorMsg{err: fmt.Sprintf("Error signing out: %v", err)}
		}
		return doneMsg{message: "Signed out"}
	}
}

func main() {
	client := NewApiClient()
	if ok, err := client.CheckHealth(); !ok {
		fmt.Printf("Warning: API server at %s is not available: %v\n", client.BaseURL, err)
	}

	p := tea.NewProgram(initialModel(client))
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running program: %v", err)
		os.Exit(1)
	}
}
