package ui

// appCSS is inlined into every page.
const appCSS = `
:root{--bg:#f6f8fa;--fg:#1f2328;--muted:#59636e;--card:#fff;--border:#d1d9e0;--accent:#0969da;
--success:#1a7f37;--attention:#9a6700;--danger:#d1242f;--font:system-ui,-apple-system,"Segoe UI",sans-serif}
[data-theme=dark]{--bg:#0d1117;--fg:#e6edf3;--muted:#9198a1;--card:#151b23;--border:#3d444d;--accent:#4493f8;
--success:#3fb950;--attention:#d29922;--danger:#f85149}
*{box-sizing:border-box}
body{margin:0;background:var(--bg);color:var(--fg);font:14px/1.5 var(--font)}
a{color:var(--accent);text-decoration:none}
a:hover{text-decoration:underline}
code{font-family:ui-monospace,SFMono-Regular,Menlo,monospace;font-size:12px}
.app-shell{display:flex;min-height:100vh}
.app-sidebar{width:220px;flex-shrink:0;border-right:1px solid var(--border);padding:16px;background:var(--card)}
.brand{margin-bottom:16px}
.app-nav{display:flex;flex-direction:column;gap:2px}
.app-nav-link{padding:6px 8px;border-radius:6px;color:var(--fg)}
.app-nav-link.active{background:var(--bg);font-weight:600}
.app-main{flex:1;min-width:0;padding:16px 24px}
.topbar{display:flex;justify-content:space-between;align-items:flex-start;gap:16px;margin-bottom:16px}
.page-title{font-size:20px;margin:0}
.layout{max-width:720px;margin:48px auto;padding:0 16px}
.card{background:var(--card);border:1px solid var(--border);border-radius:6px;padding:16px;margin-bottom:16px}
.grid{display:grid;grid-template-columns:repeat(auto-fill,minmax(180px,1fr));gap:16px}
.stat{font-size:24px;font-weight:600}
.muted{color:var(--muted);font-size:12px;margin:0}
.row{display:flex;flex-wrap:wrap;align-items:center;gap:8px}
.grow{flex:1}
.form-control{width:100%;padding:5px 8px;border:1px solid var(--border);border-radius:6px;background:var(--bg);color:var(--fg)}
.btn{padding:3px 10px;border:1px solid var(--border);border-radius:6px;background:var(--card);color:var(--fg);cursor:pointer}
.table-wrap{overflow-x:auto;padding:0}
table{border-collapse:collapse;width:100%}
th,td{text-align:left;padding:6px 12px;border-bottom:1px solid var(--border);vertical-align:top}
th{font-weight:600;background:var(--bg)}
dl{display:grid;grid-template-columns:max-content 1fr;gap:4px 16px;margin:0}
dt{color:var(--muted)}
dd{margin:0}
ol.chain{margin:0;padding-left:20px}
.label{display:inline-block;padding:0 7px;border:1px solid var(--border);border-radius:2em;font-size:12px;font-weight:500}
.label-success{color:var(--success);border-color:var(--success)}
.label-attention{color:var(--attention);border-color:var(--attention)}
.label-accent{color:var(--accent);border-color:var(--accent)}
.label-danger{color:var(--danger);border-color:var(--danger)}
.sr-only{position:absolute;width:1px;height:1px;overflow:hidden;clip:rect(0,0,0,0)}
`
