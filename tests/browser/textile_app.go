package browser

import (
	"html/template"
	"net/http"
)

// TextileTitle is the document title of every stub page.
const TextileTitle = "Textile V2.1"

const layout = `<!DOCTYPE html>
<html lang="pt-BR">
<head>
    <meta charset="UTF-8">
    <title>Textile V2.1</title>
    <style>
        body { font-family: sans-serif; margin: 0; }
        #navbar { display: flex; gap: 1rem; padding: 1rem; background: #00d1b2; }
        #navbar a { color: #fff; }
        main { padding: 1rem; }
        .modal { position: fixed; inset: 0; display: flex; align-items: center; justify-content: center; }
        .modal-background { position: absolute; inset: 0; background: rgba(10, 10, 10, 0.86); }
        .modal-card { position: relative; background: #fff; padding: 1.5rem; width: 480px; }
        .field { margin-bottom: 0.75rem; }
    </style>
</head>
<body>
<nav id="navbar">
    <a href="/">Sobre</a>
    <a href="/fabric">Tecidos</a>
    <a href="/cutting-table">Mesas de corte</a>
    <a href="/fabric-cut">Cortes</a>
</nav>
<main>
{{template "content" .}}
</main>
</body>
</html>`

var pages = map[string]string{
	"/": `{{define "content"}}<h1 id="title" class="title is-2">Sobre a empresa</h1>
<p>Gestão de tecidos e cortes.</p>{{end}}`,

	"/fabric": `{{define "content"}}<h1 id="title" class="title is-2">Tecido</h1>
<a class="button is-primary" href="/fabric/new">Novo</a>
<table class="table"><thead><tr><th>Nome</th><th>Fabricante</th><th>Largura</th><th>Código</th></tr></thead></table>{{end}}`,

	"/fabric/new": `{{define "content"}}<h1 id="title" class="title is-2">Novo tecido</h1>
<div class="modal is-active">
    <div class="modal-background"></div>
    <div class="modal-card">
        <form>
            <div class="field"><input class="input" name="name" placeholder="Nome"></div>
            <div class="field"><input class="input" name="manufacturer" placeholder="Fabricante"></div>
            <div class="field"><input class="input" name="width" placeholder="Largura"></div>
            <div class="field"><input class="input" name="code" placeholder="Código"></div>
        </form>
        <button type="button" class="button is-success">Salvar</button>
        <a class="button" href="/fabric">Cancelar</a>
    </div>
</div>{{end}}`,

	"/cutting-table": `{{define "content"}}<h1 id="title" class="title is-2">Mesas de corte</h1>{{end}}`,
	"/fabric-cut":    `{{define "content"}}<h1 id="title" class="title is-2">Cortes</h1>{{end}}`,
}

// NewTextileApp serves a static stand-in for the Textile UI pages the
// catalog scenarios visit.
func NewTextileApp() http.Handler {
	mux := http.NewServeMux()
	for path, content := range pages {
		tmpl := template.Must(template.Must(template.New(path).Parse(layout)).Parse(content))
		pattern := "GET " + path
		if path == "/" {
			pattern = "GET /{$}"
		}
		mux.HandleFunc(pattern, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			if err := tmpl.Execute(w, nil); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		})
	}
	return mux
}
