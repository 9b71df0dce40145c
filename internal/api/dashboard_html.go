package api

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>shimgate</title>
<style>
*,*::before,*::after{box-sizing:border-box;margin:0;padding:0}
:root,[data-theme="dark"]{
  --bg:#0f1117;--bg-card:#161b22;--bg-card-hover:#1c2129;--bg-input:#0d1117;
  --border:#30363d;--text:#e1e4e8;--text-muted:#8b949e;--text-dim:#484f58;
  --primary:#58a6ff;--primary-hover:#79b8ff;
  --green:#3fb950;--red:#f85149;--yellow:#d29922;--orange:#db6d28;
  --radius:8px;--radius-sm:4px;
}
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Helvetica,Arial,sans-serif;background:var(--bg);color:var(--text);line-height:1.5;min-height:100vh}
a{color:var(--primary);text-decoration:none}
.container{max-width:900px;margin:0 auto;padding:0 24px 48px}
header{background:var(--bg-card);border-bottom:1px solid var(--border);padding:12px 24px}
.header-inner{max-width:900px;margin:0 auto;display:flex;align-items:center;gap:16px}
.header-title{font-size:20px;font-weight:700}
.badge{display:inline-flex;align-items:center;gap:4px;padding:2px 10px;border-radius:12px;font-size:12px;font-weight:600;border:1px solid var(--border);margin-left:auto}
.badge-healthy{color:var(--green);border-color:var(--green)}
.badge-unhealthy{color:var(--red);border-color:var(--red)}
.badge-unknown{color:var(--text-dim)}
.dot{width:8px;height:8px;border-radius:50%;display:inline-block}
.dot-green{background:var(--green)}.dot-red{background:var(--red)}.dot-gray{background:var(--text-dim)}
.summary{display:grid;grid-template-columns:repeat(3,1fr);gap:16px;margin:24px 0}
.card{background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius);padding:20px}
.card-label{font-size:12px;text-transform:uppercase;letter-spacing:.5px;color:var(--text-muted);margin-bottom:4px}
.card-value{font-size:32px;font-weight:700;line-height:1.2}
.table-wrap{background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius);overflow:auto}
table{width:100%;border-collapse:collapse;font-size:14px}
th{text-align:left;padding:10px 16px;font-weight:600;color:var(--text-muted);border-bottom:1px solid var(--border);font-size:12px;text-transform:uppercase}
td{padding:10px 16px;border-bottom:1px solid var(--border)}
tbody tr:last-child td{border-bottom:none}
.muted{color:var(--text-muted);font-size:13px;margin-top:8px}
</style>
</head>
<body>
<header>
  <div class="header-inner">
    <div class="header-title">shimgate</div>
    <span class="badge" id="engine-badge"><span class="dot dot-gray"></span> unknown</span>
  </div>
</header>
<div class="container">
  <div class="summary">
    <div class="card"><div class="card-label">Available</div><div class="card-value" id="v-available">-</div></div>
    <div class="card"><div class="card-label">Unavailable</div><div class="card-value" id="v-unavailable">-</div></div>
    <div class="card"><div class="card-label">Total slots</div><div class="card-value" id="v-total">-</div></div>
  </div>
  <div class="table-wrap">
    <table>
      <tbody>
        <tr><td>Uptime</td><td id="v-uptime">-</td></tr>
        <tr><td>Go version</td><td id="v-gover">-</td></tr>
        <tr><td>Goroutines</td><td id="v-goroutines">-</td></tr>
        <tr><td>Engine last check</td><td id="v-lastcheck">-</td></tr>
        <tr><td>Engine consecutive failures</td><td id="v-failures">-</td></tr>
        <tr><td>Engine last error</td><td id="v-lasterr">-</td></tr>
      </tbody>
    </table>
  </div>
  <p class="muted">Read-only status view, refreshed every 5 seconds from <a href="/status">/status</a>.</p>
</div>
<script>
function badgeClass(status) {
  if (status === "healthy") return "badge-healthy";
  if (status === "unhealthy") return "badge-unhealthy";
  return "badge-unknown";
}
function dotClass(status) {
  if (status === "healthy") return "dot-green";
  if (status === "unhealthy") return "dot-red";
  return "dot-gray";
}
async function refresh() {
  try {
    const res = await fetch("/status");
    const data = await res.json();
    document.getElementById("v-available").textContent = data.sessions.available;
    document.getElementById("v-unavailable").textContent = data.sessions.unavailable;
    document.getElementById("v-total").textContent = data.sessions.total;
    document.getElementById("v-uptime").textContent = data.uptime_seconds + "s";
    document.getElementById("v-gover").textContent = data.go_version;
    document.getElementById("v-goroutines").textContent = data.goroutines;
    const health = data.engine_health || {};
    const statusName = ["unknown", "healthy", "unhealthy"][health.status] || "unknown";
    document.getElementById("v-lastcheck").textContent = health.last_check || "-";
    document.getElementById("v-failures").textContent = health.consecutive_failures || 0;
    document.getElementById("v-lasterr").textContent = health.last_error || "-";
    const badge = document.getElementById("engine-badge");
    badge.className = "badge " + badgeClass(statusName);
    badge.innerHTML = '<span class="dot ' + dotClass(statusName) + '"></span> ' + statusName;
  } catch (e) {
    // transient fetch failure; next tick retries
  }
}
refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>
`
